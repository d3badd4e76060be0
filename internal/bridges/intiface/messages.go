package intiface

import (
	"encoding/json"
	"fmt"
	"sort"
)

// MessageVersion is the Buttplug protocol version spoken by this client.
const MessageVersion = 3

// Kind identifies an incoming message type.
type Kind string

// Incoming message kinds.
const (
	KindOk               Kind = "Ok"
	KindError            Kind = "Error"
	KindServerInfo       Kind = "ServerInfo"
	KindDeviceList       Kind = "DeviceList"
	KindDeviceAdded      Kind = "DeviceAdded"
	KindDeviceRemoved    Kind = "DeviceRemoved"
	KindScanningFinished Kind = "ScanningFinished"
	KindUnknown          Kind = "Unknown"
)

// Message is a decoded server message.
type Message interface {
	Kind() Kind
	// MessageID returns the Id of the request this replies to, or 0 for
	// server-initiated events.
	MessageID() uint32
}

// header carries the Id every Buttplug message has.
type header struct {
	ID uint32 `json:"Id"`
}

func (h header) MessageID() uint32 { return h.ID }

func (h *header) setID(id uint32) { h.ID = id }

// ─── Incoming ───────────────────────────────────────────────────────

// Ok acknowledges a request.
type Ok struct{ header }

// Kind returns KindOk.
func (Ok) Kind() Kind { return KindOk }

// Error reports a failed request.
type Error struct {
	header
	ErrorMessage string `json:"ErrorMessage"`
	ErrorCode    int    `json:"ErrorCode"`
}

// Kind returns KindError.
func (Error) Kind() Kind { return KindError }

// Err converts the reply into an error wrapping ErrServer.
func (e Error) Err() error {
	return fmt.Errorf("%w: %s (code %d)", ErrServer, e.ErrorMessage, e.ErrorCode)
}

// ServerInfo answers RequestServerInfo.
type ServerInfo struct {
	header
	ServerName     string `json:"ServerName"`
	MessageVersion int    `json:"MessageVersion"`
	MaxPingTime    int    `json:"MaxPingTime"`
}

// Kind returns KindServerInfo.
func (ServerInfo) Kind() Kind { return KindServerInfo }

// DeviceList answers RequestDeviceList.
type DeviceList struct {
	header
	Devices []Device
}

// Kind returns KindDeviceList.
func (DeviceList) Kind() Kind { return KindDeviceList }

// DeviceAdded announces a newly connected device.
type DeviceAdded struct {
	header
	Device Device
}

// Kind returns KindDeviceAdded.
func (DeviceAdded) Kind() Kind { return KindDeviceAdded }

// DeviceRemoved announces a disconnected device.
type DeviceRemoved struct {
	header
	DeviceIndex uint32 `json:"DeviceIndex"`
}

// Kind returns KindDeviceRemoved.
func (DeviceRemoved) Kind() Kind { return KindDeviceRemoved }

// ScanningFinished announces the end of a scan.
type ScanningFinished struct{ header }

// Kind returns KindScanningFinished.
func (ScanningFinished) Kind() Kind { return KindScanningFinished }

// Unknown holds a message type this client does not handle.
type Unknown struct {
	header
	Name string
}

// Kind returns KindUnknown.
func (Unknown) Kind() Kind { return KindUnknown }

// Capabilities describes what a device accepts.
type Capabilities struct {
	// Linear is true when the device accepts LinearCmd.
	Linear bool `json:"linear"`
	// LinearActuators is the number of linear axes.
	LinearActuators int `json:"linear_actuators"`
	// Stop is true when the device accepts StopDeviceCmd.
	Stop bool `json:"stop"`
}

// Device is an attached device as reported by the server.
type Device struct {
	Index        uint32       `json:"index"`
	Name         string       `json:"name"`
	Capabilities Capabilities `json:"capabilities"`
}

// wireDevice is the Buttplug representation of a device.
type wireDevice struct {
	DeviceIndex    uint32                     `json:"DeviceIndex"`
	DeviceName     string                     `json:"DeviceName"`
	DeviceMessages map[string]json.RawMessage `json:"DeviceMessages"`
}

func (w wireDevice) device() Device {
	d := Device{Index: w.DeviceIndex, Name: w.DeviceName}
	if raw, ok := w.DeviceMessages["LinearCmd"]; ok {
		d.Capabilities.Linear = true
		var attrs []json.RawMessage
		if err := json.Unmarshal(raw, &attrs); err == nil {
			d.Capabilities.LinearActuators = len(attrs)
		}
		if d.Capabilities.LinearActuators == 0 {
			d.Capabilities.LinearActuators = 1
		}
	}
	if _, ok := w.DeviceMessages["StopDeviceCmd"]; ok {
		d.Capabilities.Stop = true
	}
	return d
}

// Decode parses one frame into messages, in frame order.
func Decode(frame []byte) ([]Message, error) {
	var entries []map[string]json.RawMessage
	if err := json.Unmarshal(frame, &entries); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidFrame, err)
	}

	msgs := make([]Message, 0, len(entries))
	for _, entry := range entries {
		if len(entry) != 1 {
			return nil, fmt.Errorf("%w: expected one message per object, got %d", ErrInvalidFrame, len(entry))
		}
		for name, body := range entry {
			msg, err := decodeMessage(Kind(name), body)
			if err != nil {
				return nil, fmt.Errorf("%w: %s: %w", ErrInvalidFrame, name, err)
			}
			msgs = append(msgs, msg)
		}
	}
	return msgs, nil
}

func decodeMessage(kind Kind, body json.RawMessage) (Message, error) {
	switch kind {
	case KindOk:
		var m Ok
		return m, json.Unmarshal(body, &m)
	case KindError:
		var m Error
		return m, json.Unmarshal(body, &m)
	case KindServerInfo:
		var m ServerInfo
		return m, json.Unmarshal(body, &m)
	case KindDeviceList:
		var w struct {
			header
			Devices []wireDevice `json:"Devices"`
		}
		if err := json.Unmarshal(body, &w); err != nil {
			return nil, err
		}
		m := DeviceList{header: w.header, Devices: make([]Device, 0, len(w.Devices))}
		for _, d := range w.Devices {
			m.Devices = append(m.Devices, d.device())
		}
		return m, nil
	case KindDeviceAdded:
		var w struct {
			header
			wireDevice
		}
		if err := json.Unmarshal(body, &w); err != nil {
			return nil, err
		}
		return DeviceAdded{header: w.header, Device: w.device()}, nil
	case KindDeviceRemoved:
		var m DeviceRemoved
		return m, json.Unmarshal(body, &m)
	case KindScanningFinished:
		var m ScanningFinished
		return m, json.Unmarshal(body, &m)
	default:
		var h header
		_ = json.Unmarshal(body, &h) //nolint:errcheck // Id is best-effort for unknown messages
		return Unknown{header: h, Name: string(kind)}, nil
	}
}

// ─── Outgoing ───────────────────────────────────────────────────────

// Request is a client message awaiting a reply.
type Request interface {
	requestName() string
	setID(id uint32)
	MessageID() uint32
}

// RequestServerInfo opens the session.
type RequestServerInfo struct {
	header
	ClientName     string `json:"ClientName"`
	MessageVersion int    `json:"MessageVersion"`
}

func (*RequestServerInfo) requestName() string { return "RequestServerInfo" }

// RequestDeviceList asks for the attached devices.
type RequestDeviceList struct{ header }

func (*RequestDeviceList) requestName() string { return "RequestDeviceList" }

// StartScanning asks the server to look for new devices.
type StartScanning struct{ header }

func (*StartScanning) requestName() string { return "StartScanning" }

// Ping keeps the session alive when the server enforces MaxPingTime.
type Ping struct{ header }

func (*Ping) requestName() string { return "Ping" }

// Vector is one axis of a LinearCmd.
type Vector struct {
	Index    int     `json:"Index"`
	Duration int     `json:"Duration"`
	Position float64 `json:"Position"`
}

// LinearCmd moves a device's linear axes.
type LinearCmd struct {
	header
	DeviceIndex uint32   `json:"DeviceIndex"`
	Vectors     []Vector `json:"Vectors"`
}

func (*LinearCmd) requestName() string { return "LinearCmd" }

// StopAllDevices halts every device on the server.
type StopAllDevices struct{ header }

func (*StopAllDevices) requestName() string { return "StopAllDevices" }

// Encode renders a request as a single-message frame.
func Encode(req Request) ([]byte, error) {
	return json.Marshal([]map[string]Request{{req.requestName(): req}})
}

// linearVectors builds one vector per actuator, all moving together.
func linearVectors(actuators int, position float64, durationMs int) []Vector {
	if actuators < 1 {
		actuators = 1
	}
	vectors := make([]Vector, actuators)
	for i := range vectors {
		vectors[i] = Vector{Index: i, Duration: durationMs, Position: position}
	}
	return vectors
}

// sortedDevices returns devices ordered by index.
func sortedDevices(devices map[uint32]Device) []Device {
	out := make([]Device, 0, len(devices))
	for _, d := range devices {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}
