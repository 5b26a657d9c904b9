package peer

import (
	"github.com/pion/sdp/v3"
	"github.com/pkg/errors"

	"github.com/arzzra/call_engine/pkg/rtc"
)

// descriptionInfo сведения об удаленном описании, нужные менеджеру
type descriptionInfo struct {
	Kinds []rtc.TrackKind
	Ufrag string
}

// inspectDescription разбирает SDP и проверяет что в нем есть медиа секции
func inspectDescription(desc rtc.SessionDescription) (descriptionInfo, error) {
	var info descriptionInfo
	if desc.Type != rtc.SDPOffer && desc.Type != rtc.SDPAnswer {
		return info, errors.Errorf("unsupported description type %q", desc.Type)
	}

	var parsed sdp.SessionDescription
	if err := parsed.Unmarshal([]byte(desc.SDP)); err != nil {
		return info, errors.Wrap(err, "parse sdp")
	}
	if len(parsed.MediaDescriptions) == 0 {
		return info, errors.New("sdp has no media sections")
	}

	if ufrag, ok := parsed.Attribute("ice-ufrag"); ok {
		info.Ufrag = ufrag
	}
	for _, md := range parsed.MediaDescriptions {
		switch md.MediaName.Media {
		case "audio":
			info.Kinds = append(info.Kinds, rtc.TrackAudio)
		case "video":
			info.Kinds = append(info.Kinds, rtc.TrackVideo)
		}
		if info.Ufrag == "" {
			if ufrag, ok := md.Attribute("ice-ufrag"); ok {
				info.Ufrag = ufrag
			}
		}
	}
	return info, nil
}
