// Package wire defines the worker/UI transport message envelopes:
// outbound command payloads, inbound telemetry/result payloads, the
// tile-grouped paint batch shape, and the compression envelope applied to
// large, non-latency-critical outbound messages.
package wire

import (
	"bytes"
	"compress/gzip"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"

	"github.com/andrewboldi/canvasguard/internal/canvas"
	"github.com/andrewboldi/canvasguard/internal/guardconfig"
)

// Outbound message type names.
const (
	TypeConnected     = "connected"
	TypeFavoriteState = "favorite_status"
	TypeSetFavorite   = "setFavorite"
	TypeSetMode       = "setMode"
	TypeLoadProject   = "loadProject"
	TypeGuardConfig   = "guardConfig"
	TypeGuardData     = "guardData"
	TypeGuardControl  = "guardControl"
	TypeControl       = "control"
	TypePaintBatch    = "paintBatch"
	TypeRepairOrder   = "repairOrder"
	TypePing          = "ping"
	TypeCompressed    = "__compressed__"
)

// Inbound message type names.
const (
	TypeTelemetry      = "telemetry"
	TypeStatus         = "status"
	TypePreviewData    = "preview_data"
	TypePaintProgress  = "paint_progress"
	TypePaintResult    = "paint_result"
	TypeRepairAck      = "repair_ack"
	TypeRepairProgress = "repair_progress"
	TypeRepairComplete = "repair_complete"
	TypeRepairError    = "repair_error"
)

// GuardControlAction enumerates the favorite freshness handshake actions.
type GuardControlAction string

const (
	GuardControlCheck  GuardControlAction = "check"
	GuardControlRepair GuardControlAction = "repair"
	GuardControlClear  GuardControlAction = "clear"
)

// ControlAction enumerates session lifecycle broadcast actions.
type ControlAction string

const (
	ControlPause ControlAction = "pause"
	ControlStop  ControlAction = "stop"
)

// Envelope is the generic shape every worker/UI message conforms to: a
// discriminant "type" field plus arbitrary payload fields.
type Envelope struct {
	Type string `json:"type"`
}

// SetFavoritePayload is the {type:"setFavorite", isFavorite} message.
type SetFavoritePayload struct {
	Type       string `json:"type"`
	IsFavorite bool   `json:"isFavorite"`
}

// SetModePayload is the {type:"setMode", mode} message pushed to every
// valid worker of a session when it starts.
type SetModePayload struct {
	Type string `json:"type"`
	Mode string `json:"mode"`
}

// LoadProjectPayload is the {type:"loadProject", config} message pushed
// to every valid worker of a session when it starts, carrying the
// project's full config blob.
type LoadProjectPayload struct {
	Type   string         `json:"type"`
	Config map[string]any `json:"config"`
}

// GuardControlPayload is the {type:"guardControl", action, params?}
// message used by the preview freshness handshake (C5) and by manual
// repair/clear commands.
type GuardControlPayload struct {
	Type   string              `json:"type"`
	Action GuardControlAction  `json:"action"`
	Params map[string]any      `json:"params,omitempty"`
}

// ControlPayload is the {type:"control", action} broadcast sent on
// session pause/stop.
type ControlPayload struct {
	Type   string        `json:"type"`
	Action ControlAction `json:"action"`
}

// PaintBatchPayload is one tile-grouped paintBatch command (C6).
type PaintBatchPayload struct {
	Type      string         `json:"type"`
	TileX     int            `json:"tileX"`
	TileY     int            `json:"tileY"`
	Coords    []canvas.Coord `json:"coords"`
	Colors    []int          `json:"colors"`
	RequestID string         `json:"requestId"`
	BatchSize int            `json:"batchSize"`
}

// NewPaintBatch builds a PaintBatchPayload with Type pre-populated.
func NewPaintBatch(tileX, tileY int, coords []canvas.Coord, colors []int, requestID string) PaintBatchPayload {
	return PaintBatchPayload{
		Type:      TypePaintBatch,
		TileX:     tileX,
		TileY:     tileY,
		Coords:    coords,
		Colors:    colors,
		RequestID: requestID,
		BatchSize: len(coords),
	}
}

// PaintResultPayload is the inbound {type:"paint_result", ...} message.
type PaintResultPayload struct {
	Type      string         `json:"type"`
	RequestID string         `json:"requestId"`
	TileX     int            `json:"tileX"`
	TileY     int            `json:"tileY"`
	Coords    []canvas.Coord `json:"coords"`
	OK        bool           `json:"ok"`
}

// TelemetryPayload is the inbound {type:"telemetry", data} message: a
// worker's self-reported charge count and lifecycle status.
type TelemetryPayload struct {
	Type string        `json:"type"`
	Data TelemetryData `json:"data"`
}

// TelemetryData is the typed subset of a telemetry report the
// orchestrator consumes.
type TelemetryData struct {
	RemainingCharges int    `json:"remainingCharges"`
	Status           string `json:"status,omitempty"`
}

// PreviewDataPayload is the inbound {type:"preview_data", data} message,
// only meaningful from the favorite worker: its current diff against the
// reference canvas plus optional palette metadata.
type PreviewDataPayload struct {
	Type string      `json:"type"`
	Data PreviewData `json:"data"`
}

// PreviewData mirrors canvas.Preview on the wire.
type PreviewData struct {
	Changes []canvas.Change `json:"changes"`
	Palette []int           `json:"palette,omitempty"`
}

// ToPreview converts the wire shape into a canvas.Preview.
func (d PreviewData) ToPreview() canvas.Preview {
	p := canvas.Preview{Changes: d.Changes}
	if len(d.Palette) > 0 {
		p.Palette = &canvas.Palette{AvailableColorIDs: d.Palette}
	}
	return p
}

// GuardConfigPayload is the {type:"guardConfig", ...} message pushed to
// a worker whenever it is elected favorite, so the favorite has the
// current C3/C4/C5 settings before the next round.
type GuardConfigPayload struct {
	Type                  string                             `json:"type"`
	ProtectionPattern     string                             `json:"protectionPattern"`
	PreferColor           bool                               `json:"preferColor"`
	PreferredColorIDs     []int                              `json:"preferredColorIds"`
	ExcludeColor          bool                               `json:"excludeColor"`
	ExcludedColorIDs      []int                              `json:"excludedColorIds"`
	PixelsPerBatch        int                                `json:"pixelsPerBatch"`
	SpendAllPixelsOnStart bool                               `json:"spendAllPixelsOnStart"`
	ColorThreshold        int                                `json:"colorThreshold"`
	ColorComparisonMethod guardconfig.ColorComparisonMethod  `json:"colorComparisonMethod"`
	ChargeStrategy        guardconfig.ChargeStrategy         `json:"chargeStrategy"`
}

// NewGuardConfigPayload snapshots cfg's current settings into the wire
// shape pushed to a worker.
func NewGuardConfigPayload(cfg *guardconfig.Config) GuardConfigPayload {
	preferEnabled, preferredSet := cfg.PreferredColors()
	excludeEnabled, excludedSet := cfg.ExcludedColors()
	threshold, method := cfg.ColorThresholdAndMethod()

	return GuardConfigPayload{
		Type:                  TypeGuardConfig,
		ProtectionPattern:     cfg.ProtectionPattern(),
		PreferColor:           preferEnabled,
		PreferredColorIDs:     colorIDSetToSlice(preferredSet),
		ExcludeColor:          excludeEnabled,
		ExcludedColorIDs:      colorIDSetToSlice(excludedSet),
		PixelsPerBatch:        cfg.PixelsPerBatch(),
		SpendAllPixelsOnStart: cfg.SpendAllPixelsOnStart(),
		ColorThreshold:        threshold,
		ColorComparisonMethod: method,
		ChargeStrategy:        cfg.ChargeStrategy(),
	}
}

func colorIDSetToSlice(set map[int]struct{}) []int {
	ids := make([]int, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	return ids
}

// GuardDataPayload is the {type:"guardData", data} message re-pushed to
// a newly elected favorite: the last reference canvas data an operator
// uploaded, carried opaquely since the daemon never interprets it.
type GuardDataPayload struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// compressionThreshold is the 5 MiB JSON size threshold above which
// non-latency-critical outbound messages are wrapped.
const compressionThreshold = 5 * 1024 * 1024

// neverCompress holds the outbound message types that must never be
// compressed regardless of size: they are latency-critical paint
// commands.
var neverCompress = map[string]struct{}{
	TypePaintBatch:  {},
	TypeRepairOrder: {},
}

// CompressedEnvelope is the __compressed__ wrapper.
type CompressedEnvelope struct {
	Type             string `json:"type"`
	Encoding         string `json:"encoding"`
	OriginalType     string `json:"originalType"`
	OriginalLength   int    `json:"originalLength"`
	CompressedLength int    `json:"compressedLength"`
	Payload          string `json:"payload"`
}

// EncodeForSend marshals msg to JSON and, if it exceeds the compression
// threshold and its type is not in neverCompress, wraps it as a
// CompressedEnvelope. msg must marshal to a JSON object with a "type"
// field matching msgType.
func EncodeForSend(msgType string, msg any) ([]byte, error) {
	raw, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshaling outbound message: %w", err)
	}
	if _, exempt := neverCompress[msgType]; exempt || len(raw) <= compressionThreshold {
		return raw, nil
	}

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(raw); err != nil {
		return nil, fmt.Errorf("gzip compressing outbound message: %w", err)
	}
	if err := gz.Close(); err != nil {
		return nil, fmt.Errorf("finalizing gzip stream: %w", err)
	}

	env := CompressedEnvelope{
		Type:             TypeCompressed,
		Encoding:         "gzip+base64",
		OriginalType:     msgType,
		OriginalLength:   len(raw),
		CompressedLength: buf.Len(),
		Payload:          base64.StdEncoding.EncodeToString(buf.Bytes()),
	}
	return json.Marshal(env)
}

// DecodeInbound transparently decodes a __compressed__/gzip+base64
// envelope, returning the decoded inner JSON object. Messages that are
// not compressed are returned unchanged.
func DecodeInbound(raw []byte) ([]byte, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("parsing inbound message: %w", err)
	}
	if env.Type != TypeCompressed {
		return raw, nil
	}

	var wrapped CompressedEnvelope
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		return nil, fmt.Errorf("parsing compressed envelope: %w", err)
	}
	if wrapped.Encoding != "gzip+base64" {
		return nil, fmt.Errorf("unsupported compression encoding %q", wrapped.Encoding)
	}

	compressed, err := base64.StdEncoding.DecodeString(wrapped.Payload)
	if err != nil {
		return nil, fmt.Errorf("decoding base64 payload: %w", err)
	}
	gz, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, fmt.Errorf("opening gzip stream: %w", err)
	}
	defer gz.Close()

	inner, err := io.ReadAll(gz)
	if err != nil {
		return nil, fmt.Errorf("reading gzip stream: %w", err)
	}
	return inner, nil
}
