package audio

import (
	"math"
	"sort"
	"time"
)

// Segment is one speaker's utterance: everything they said between two
// pauses, as 48 kHz stereo PCM.
type Segment struct {
	SSRC  uint32
	PCM   []int16
	Start time.Time
	End   time.Time
}

func (s Segment) Duration() time.Duration {
	return samplesToDuration(len(s.PCM) / Channels)
}

type SegmenterConfig struct {
	// Silence ends an utterance once a speaker has been quiet this long.
	Silence time.Duration
	// MaxLength cuts an utterance that runs longer than this.
	MaxLength time.Duration
	// MinVoiced drops utterances with less voiced audio than this.
	MinVoiced time.Duration
	// Threshold is the RMS level, in [0, 1], above which a frame counts
	// as voiced.
	Threshold float64
}

func DefaultSegmenterConfig() SegmenterConfig {
	return SegmenterConfig{
		Silence:   800 * time.Millisecond,
		MaxLength: 10 * time.Second,
		MinVoiced: 200 * time.Millisecond,
		Threshold: 0.01,
	}
}

type pending struct {
	pcm        []int16
	start      time.Time
	lastVoice  time.Time
	lastPacket time.Time
	voiced     int
}

// Segmenter groups per-speaker PCM into utterances. It is not safe for
// concurrent use; one listener goroutine owns it.
type Segmenter struct {
	cfg      SegmenterConfig
	speakers map[uint32]*pending
}

func NewSegmenter(cfg SegmenterConfig) *Segmenter {
	return &Segmenter{
		cfg:      cfg,
		speakers: make(map[uint32]*pending),
	}
}

// Push adds decoded PCM from ssrc received at now. When the speaker's
// utterance reaches the maximum length it is returned right away.
func (s *Segmenter) Push(ssrc uint32, pcm []int16, now time.Time) (Segment, bool) {
	p, ok := s.speakers[ssrc]
	if !ok {
		p = &pending{start: now, lastVoice: now}
		s.speakers[ssrc] = p
	}

	p.pcm = append(p.pcm, pcm...)
	p.lastPacket = now
	if RMS(pcm) >= s.cfg.Threshold {
		p.lastVoice = now
		p.voiced += len(pcm) / Channels
	}

	if samplesToDuration(len(p.pcm)/Channels) >= s.cfg.MaxLength {
		return s.finish(ssrc, p)
	}
	return Segment{}, false
}

// Flush returns the utterances of every speaker who has been quiet for at
// least the silence window, oldest first.
func (s *Segmenter) Flush(now time.Time) []Segment {
	var out []Segment
	for ssrc, p := range s.speakers {
		if now.Sub(p.lastVoice) < s.cfg.Silence {
			continue
		}
		if seg, ok := s.finish(ssrc, p); ok {
			out = append(out, seg)
		}
	}
	sortSegments(out)
	return out
}

// FlushAll returns whatever is pending, regardless of silence.
func (s *Segmenter) FlushAll() []Segment {
	var out []Segment
	for ssrc, p := range s.speakers {
		if seg, ok := s.finish(ssrc, p); ok {
			out = append(out, seg)
		}
	}
	sortSegments(out)
	return out
}

// Pending is the number of speakers with buffered audio.
func (s *Segmenter) Pending() int {
	return len(s.speakers)
}

func (s *Segmenter) finish(ssrc uint32, p *pending) (Segment, bool) {
	delete(s.speakers, ssrc)
	if samplesToDuration(p.voiced) < s.cfg.MinVoiced {
		return Segment{}, false
	}
	return Segment{
		SSRC:  ssrc,
		PCM:   p.pcm,
		Start: p.start,
		End:   p.lastPacket,
	}, true
}

func sortSegments(segs []Segment) {
	sort.Slice(segs, func(i, j int) bool {
		return segs[i].Start.Before(segs[j].Start)
	})
}

func samplesToDuration(n int) time.Duration {
	return time.Duration(n) * time.Second / SampleRate
}

// RMS is the root mean square level of pcm, normalized to [0, 1].
func RMS(pcm []int16) float64 {
	if len(pcm) == 0 {
		return 0
	}
	var sum float64
	for _, s := range pcm {
		v := float64(s) / 32768
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(pcm)))
}
