package rtc

import (
	"regexp"
	"strings"

	"github.com/mentorverse/liplink/pkg/types"
)

var connectionLineRE = regexp.MustCompile(`c=IN IP4 \d+\.\d+\.\d+\.\d+`)

// MungeSDP rewrites a local SDP answer for clients on the public internet:
// connection lines get the advertised public IP, and only relay candidates
// survive, forcing media through the TURN server instead of unreachable host
// addresses. An empty publicIP leaves the connection lines untouched.
func MungeSDP(sdp, publicIP string) string {
	if publicIP != "" {
		sdp = connectionLineRE.ReplaceAllString(sdp, "c=IN IP4 "+publicIP)
	}

	lines := strings.Split(sdp, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if strings.HasPrefix(line, "a=candidate") && !strings.Contains(line, "typ relay") {
			continue
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, "\n")
}

// ExtractCandidates pulls the relay ICE candidates out of an SDP, with the
// media-line index and mid each one belongs to. Browsers expect candidates
// via trickle messages even when the SDP already embeds them.
func ExtractCandidates(sdp string) []types.ICECandidate {
	var out []types.ICECandidate
	mlineIndex := -1
	mid := ""

	for _, line := range strings.Split(sdp, "\n") {
		line = strings.TrimRight(line, "\r")
		switch {
		case strings.HasPrefix(line, "m="):
			mlineIndex++
		case strings.HasPrefix(line, "a=mid:"):
			mid = strings.TrimSpace(strings.TrimPrefix(line, "a=mid:"))
		case strings.HasPrefix(line, "a=candidate:"):
			if !strings.Contains(line, "typ relay") {
				continue
			}
			out = append(out, types.ICECandidate{
				Candidate:     strings.TrimPrefix(line, "a="),
				SDPMLineIndex: mlineIndex,
				SDPMid:        mid,
			})
		}
	}
	return out
}
