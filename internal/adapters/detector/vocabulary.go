package detector

import (
	"strings"
	"unicode"
)

// Body25 is the OpenPose BODY_25 keypoint order, in canonical names.
var Body25 = Vocabulary{
	"nose", "neck",
	"right_shoulder", "right_elbow", "right_wrist",
	"left_shoulder", "left_elbow", "left_wrist",
	"mid_hip",
	"right_hip", "right_knee", "right_ankle",
	"left_hip", "left_knee", "left_ankle",
	"right_eye", "left_eye", "right_ear", "left_ear",
	"left_big_toe", "left_small_toe", "left_heel",
	"right_big_toe", "right_small_toe", "right_heel",
}

// Hand21 is the 21-landmark hand order shared by OpenPose and MediaPipe.
var Hand21 = Vocabulary{
	"wrist",
	"thumb_cmc", "thumb_mcp", "thumb_ip", "thumb_tip",
	"index_finger_mcp", "index_finger_pip", "index_finger_dip", "index_finger_tip",
	"middle_finger_mcp", "middle_finger_pip", "middle_finger_dip", "middle_finger_tip",
	"ring_finger_mcp", "ring_finger_pip", "ring_finger_dip", "ring_finger_tip",
	"pinky_mcp", "pinky_pip", "pinky_dip", "pinky_tip",
}

// BlazePose33 is the MediaPipe full-body landmark order.
var BlazePose33 = Vocabulary{
	"nose",
	"left_eye_inner", "left_eye", "left_eye_outer",
	"right_eye_inner", "right_eye", "right_eye_outer",
	"left_ear", "right_ear",
	"mouth_left", "mouth_right",
	"left_shoulder", "right_shoulder",
	"left_elbow", "right_elbow",
	"left_wrist", "right_wrist",
	"left_pinky", "right_pinky",
	"left_index", "right_index",
	"left_thumb", "right_thumb",
	"left_hip", "right_hip",
	"left_knee", "right_knee",
	"left_ankle", "right_ankle",
	"left_heel", "right_heel",
	"left_foot_index", "right_foot_index",
}

// Vocabulary is the closed, ordered set of joint names a detector can report.
type Vocabulary []string

// Contains reports whether name is part of the vocabulary.
func (v Vocabulary) Contains(name string) bool {
	for _, n := range v {
		if n == name {
			return true
		}
	}
	return false
}

// VocabularyFor returns the joint set of a reply format and capability.
func VocabularyFor(format Format, capability Capability) Vocabulary {
	if capability == CapabilityHand {
		return Hand21
	}
	if format == FormatMediaPipe {
		return BlazePose33
	}
	return Body25
}

var sidePrefixes = map[string]string{"r_": "right_", "l_": "left_"}

// Canonical converts a detector's joint name to snake_case and expands the
// short side prefixes, so "RWrist", "right-wrist" and "RIGHT_WRIST" all
// become "right_wrist".
func Canonical(name string) string {
	runes := []rune(strings.TrimSpace(name))
	var b strings.Builder
	for i, r := range runes {
		switch {
		case r == ' ' || r == '-' || r == '.' || r == '_':
			b.WriteRune('_')
		case unicode.IsUpper(r):
			if i > 0 && needsBreak(runes, i) {
				b.WriteRune('_')
			}
			b.WriteRune(unicode.ToLower(r))
		default:
			b.WriteRune(r)
		}
	}
	out := b.String()
	for strings.Contains(out, "__") {
		out = strings.ReplaceAll(out, "__", "_")
	}
	out = strings.Trim(out, "_")
	for short, long := range sidePrefixes {
		if strings.HasPrefix(out, short) {
			return long + strings.TrimPrefix(out, short)
		}
	}
	return out
}

// needsBreak decides whether an upper-case rune starts a new word.
func needsBreak(runes []rune, i int) bool {
	prev := runes[i-1]
	if unicode.IsLower(prev) || unicode.IsDigit(prev) {
		return true
	}
	if unicode.IsUpper(prev) && i+1 < len(runes) && unicode.IsLower(runes[i+1]) {
		return true
	}
	return false
}
