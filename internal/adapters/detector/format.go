package detector

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Format names the reply layout of a detector backend.
type Format string

const (
	FormatNamed     Format = "named"
	FormatOpenPose  Format = "openpose"
	FormatMediaPipe Format = "mediapipe"
)

// ParseFormat accepts a format name; empty means named.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return FormatNamed, nil
	case FormatNamed, FormatOpenPose, FormatMediaPipe:
		return f, nil
	}
	return "", fmt.Errorf("%w: format %q", ErrInvalidDetector, s)
}

// Capability says which part of the body a detector covers.
type Capability string

const (
	CapabilityFullBody Capability = "full_body"
	CapabilityHand     Capability = "hand"
)

// ParseCapability accepts a capability name; empty means full_body.
func ParseCapability(s string) (Capability, error) {
	switch c := Capability(strings.ToLower(strings.TrimSpace(s))); c {
	case "":
		return CapabilityFullBody, nil
	case CapabilityFullBody, CapabilityHand:
		return c, nil
	}
	return "", fmt.Errorf("%w: capability %q", ErrInvalidDetector, s)
}

// RawKeypoint is one joint as a backend reports it, before normalization.
type RawKeypoint struct {
	Name       string  `json:"name"`
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Confidence float64 `json:"confidence"`
	// Normalized marks coordinates in [0,1] of the image size.
	Normalized bool `json:"normalized,omitempty"`
}

// Decoder turns a backend reply body into raw keypoints.
type Decoder struct {
	Format     Format
	Capability Capability
	// Side picks the OpenPose hand array: "right" (default) or "left".
	Side string
}

type namedReply struct {
	Keypoints  []RawKeypoint `json:"keypoints"`
	Normalized bool          `json:"normalized"`
}

type openPosePerson struct {
	Pose      []float64 `json:"pose_keypoints_2d"`
	HandRight []float64 `json:"hand_right_keypoints_2d"`
	HandLeft  []float64 `json:"hand_left_keypoints_2d"`
}

type openPoseReply struct {
	People []openPosePerson `json:"people"`
}

type mediaPipeLandmark struct {
	X          float64  `json:"x"`
	Y          float64  `json:"y"`
	Visibility *float64 `json:"visibility"`
	Presence   *float64 `json:"presence"`
}

type mediaPipeReply struct {
	Score     *float64            `json:"score"`
	Landmarks []mediaPipeLandmark `json:"landmarks"`
}

// Decode parses body according to the decoder's format.
func (d Decoder) Decode(body []byte) ([]RawKeypoint, error) {
	switch d.Format {
	case FormatNamed, "":
		var r namedReply
		if err := json.Unmarshal(body, &r); err != nil {
			return nil, fmt.Errorf("decode named reply: %w", err)
		}
		if r.Normalized {
			for i := range r.Keypoints {
				r.Keypoints[i].Normalized = true
			}
		}
		return r.Keypoints, nil
	case FormatOpenPose:
		return d.decodeOpenPose(body)
	case FormatMediaPipe:
		return d.decodeMediaPipe(body)
	}
	return nil, fmt.Errorf("%w: format %q", ErrInvalidDetector, d.Format)
}

// decodeOpenPose reads the first person. Triples of zeros are joints
// OpenPose did not find and are left out.
func (d Decoder) decodeOpenPose(body []byte) ([]RawKeypoint, error) {
	var r openPoseReply
	if err := json.Unmarshal(body, &r); err != nil {
		return nil, fmt.Errorf("decode openpose reply: %w", err)
	}
	if len(r.People) == 0 {
		return nil, nil
	}
	person := r.People[0]
	values, vocab := person.Pose, Body25
	if d.Capability == CapabilityHand {
		values, vocab = person.HandRight, Hand21
		if strings.EqualFold(d.Side, "left") {
			values = person.HandLeft
		}
	}
	if len(values)%3 != 0 {
		return nil, fmt.Errorf("openpose keypoint array length %d is not a multiple of 3", len(values))
	}
	if len(values)/3 > len(vocab) {
		return nil, fmt.Errorf("openpose reply has %d keypoints, vocabulary has %d", len(values)/3, len(vocab))
	}
	out := make([]RawKeypoint, 0, len(values)/3)
	for i := 0; i+2 < len(values); i += 3 {
		x, y, c := values[i], values[i+1], values[i+2]
		if x == 0 && y == 0 && c == 0 {
			continue
		}
		out = append(out, RawKeypoint{Name: vocab[i/3], X: x, Y: y, Confidence: c})
	}
	return out, nil
}

// decodeMediaPipe reads landmarks in vocabulary order. Coordinates are
// normalized; confidence is the landmark visibility, else its presence, else
// the detection score.
func (d Decoder) decodeMediaPipe(body []byte) ([]RawKeypoint, error) {
	var r mediaPipeReply
	if err := json.Unmarshal(body, &r); err != nil {
		return nil, fmt.Errorf("decode mediapipe reply: %w", err)
	}
	vocab := VocabularyFor(FormatMediaPipe, d.Capability)
	if len(r.Landmarks) > len(vocab) {
		return nil, fmt.Errorf("mediapipe reply has %d landmarks, vocabulary has %d", len(r.Landmarks), len(vocab))
	}
	out := make([]RawKeypoint, 0, len(r.Landmarks))
	for i, lm := range r.Landmarks {
		conf := 1.0
		switch {
		case lm.Visibility != nil:
			conf = *lm.Visibility
		case lm.Presence != nil:
			conf = *lm.Presence
		case r.Score != nil:
			conf = *r.Score
		}
		out = append(out, RawKeypoint{Name: vocab[i], X: lm.X, Y: lm.Y, Confidence: conf, Normalized: true})
	}
	return out, nil
}
