package transport

import (
	"encoding/json"
	"log/slog"

	"github.com/louisbranch/protoflow/internal/services/protoflow/instance"
	"github.com/louisbranch/protoflow/internal/services/protoflow/ui"
)

const (
	maxFramePayloadBytes   = 64 * 1024
	maxFramesPerSecond     = 40
	frameBurst             = 80
	maxDecodeErrorsPerConn = 3
	outboxFrames           = 256
)

// Verb names a command on the wire.
type Verb string

// Server to client.
const (
	VerbShowNotification         Verb = "ShowNotification"
	VerbCreateAudio              Verb = "CreateAudio"
	VerbPlayAudio                Verb = "PlayAudio"
	VerbPauseAudio               Verb = "PauseAudio"
	VerbStopAudio                Verb = "StopAudio"
	VerbDestroyAudio             Verb = "DestroyAudio"
	VerbPongGetOpenInstances     Verb = "PongGetOpenInstances"
	VerbPongGetUIElements        Verb = "PongGetUIElements"
	VerbPongUpdateUIElement      Verb = "PongUpdateUIElement"
	VerbPongGetOpenableProtocols Verb = "PongGetOpenableProtocols"
	VerbPongOpenProtocol         Verb = "PongOpenProtocol"
	VerbError                    Verb = "Error"
)

// Client to server.
const (
	VerbConnect                  Verb = "Connect"
	VerbPingGetUIElements        Verb = "PingGetUIElements"
	VerbPingUIEvent              Verb = "PingUIEvent"
	VerbPingGetOpenableProtocols Verb = "PingGetOpenableProtocols"
	VerbPingOpenProtocol         Verb = "PingOpenProtocol"
	VerbPingCloseProtocol        Verb = "PingCloseProtocol"
)

// Envelope is one frame in either direction.
type Envelope struct {
	Command   Verb            `json:"command"`
	Arguments json.RawMessage `json:"arguments"`
}

// Protocol is one entry of the openable protocol list.
type Protocol struct {
	TypeName string
	Name     string
}

type notificationArgs struct {
	Title string
	Body  string
}

type audioArgs struct {
	AudioID string
	URL     string `json:",omitempty"`
}

type instancesArgs struct {
	Instances []instance.Summary
}

type elementsArgs struct {
	Elements []ui.Descriptor
}

type updateElementArgs struct {
	ElementID string
	Property  map[string]any
}

type protocolsArgs struct {
	Protocols []Protocol
}

type openedArgs struct {
	InstanceID string
}

type errorArgs struct {
	Command Verb
	Code    string
	Message string
}

type connectArgs struct {
	Platform string
}

type getElementsArgs struct {
	InstanceID string
}

type uiEventArgs struct {
	ElementID string
	EventName string
	Arguments json.RawMessage
}

type openProtocolArgs struct {
	TypeName string
}

type closeProtocolArgs struct {
	InstanceID string
}

func newEnvelope(verb Verb, args any) (Envelope, bool) {
	raw, err := json.Marshal(args)
	if err != nil {
		slog.Error("marshal frame arguments", "command", verb, "error", err)
		return Envelope{}, false
	}
	return Envelope{Command: verb, Arguments: raw}, true
}

// decodeEventArguments accepts either an object or a JSON string holding
// one, as older clients send the latter.
func decodeEventArguments(raw json.RawMessage) (map[string]json.RawMessage, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return map[string]json.RawMessage{}, nil
	}
	if raw[0] == '"' {
		var encoded string
		if err := json.Unmarshal(raw, &encoded); err != nil {
			return nil, err
		}
		if encoded == "" {
			return map[string]json.RawMessage{}, nil
		}
		raw = json.RawMessage(encoded)
	}
	args := map[string]json.RawMessage{}
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, err
	}
	return args, nil
}
