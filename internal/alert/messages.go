// Package alert builds outbound alert messages and correlates them with their
// asynchronous acknowledgements.
package alert

import (
	"encoding/json"
	"math"
	"time"

	"github.com/trackwatch/trackwatch/internal/anomaly"
	"github.com/trackwatch/trackwatch/internal/detection"
	"github.com/trackwatch/trackwatch/internal/distance"
	"github.com/trackwatch/trackwatch/internal/incursion"
	"github.com/trackwatch/trackwatch/internal/roi"
)

// Message type tags.
const (
	TypeAlert     = "AI_ALERT"
	TypeAck       = "AI_ACK"
	TypeRTT       = "AI_RTT"
	TypeCamMeta   = "CAM_META"
	TypeStatus    = "STATUS"
	TypeHeartbeat = "HEARTBEAT"
)

// Message id prefixes. Both share one sequence counter.
const (
	PrefixHazard = "AI"
	PrefixTrack  = "TRACK"
)

// Plane tags carried on outbound messages.
const (
	PlaneAlert = "alert"
	PlaneVideo = "video"
)

// TimestampLayout is the UTC second-resolution layout of the ts field.
const TimestampLayout = "2006-01-02T15:04:05Z"

// Envelope holds the identity fields every alert-plane message carries.
type Envelope struct {
	Src    string
	Origin string
}

// HazardAlert is an on-track object alert.
type HazardAlert struct {
	Type           string     `json:"type"`
	Category       string     `json:"category"`
	ClassID        int        `json:"cls_id"`
	Label          string     `json:"label"`
	Conf           float64    `json:"conf"`
	ROIOverlap     float64    `json:"roi_overlap"`
	BBox           [4]float64 `json:"bbox"`
	BBoxHeightPx   float64    `json:"bbox_h_px"`
	DistanceM      float64    `json:"distance_m"`
	DistanceBucket string     `json:"distance_bucket"`
	ROIMode        string     `json:"roi_mode"`
	MsgID          string     `json:"msg_id"`
	Seq            uint64     `json:"seq"`
	FrameID        uint64     `json:"frame_id"`
	TCaptureMs     int64      `json:"t_capture_ms"`
	TInferDoneMs   int64      `json:"t_infer_done_ms"`
	TSendMs        int64      `json:"t_send_ms"`
	TS             string     `json:"ts"`
	Src            string     `json:"src"`
	Plane          string     `json:"plane"`
	Origin         string     `json:"origin"`
}

// HazardInput gathers the per-frame facts a hazard alert is built from.
type HazardInput struct {
	Candidate incursion.Candidate
	Range     distance.Decision
	Variant   roi.Variant
	FrameID   uint64
	Captured  time.Time
	InferDone time.Time
}

// NewHazardAlert builds the alert for p.
func NewHazardAlert(env Envelope, p Pending, in HazardInput) HazardAlert {
	d := in.Candidate.Detection
	box := d.Box.Array()
	for i := range box {
		box[i] = round(box[i], 1)
	}
	return HazardAlert{
		Type:           TypeAlert,
		Category:       string(detection.CategoryFor(d.ClassID)),
		ClassID:        d.ClassID,
		Label:          d.Label(),
		Conf:           round(d.Score, 3),
		ROIOverlap:     round(in.Candidate.Overlap, 3),
		BBox:           box,
		BBoxHeightPx:   round(in.Range.HeightPx, 1),
		DistanceM:      round(in.Range.Meters, 2),
		DistanceBucket: string(in.Range.Bucket),
		ROIMode:        in.Variant.String(),
		MsgID:          p.MsgID,
		Seq:            p.Seq,
		FrameID:        in.FrameID,
		TCaptureMs:     in.Captured.UnixMilli(),
		TInferDoneMs:   in.InferDone.UnixMilli(),
		TSendMs:        p.SentAt.UnixMilli(),
		TS:             FormatTS(p.SentAt),
		Src:            env.Src,
		Plane:          PlaneAlert,
		Origin:         env.Origin,
	}
}

// TrackAlert reports a track-texture anomaly episode.
type TrackAlert struct {
	Type           string  `json:"type"`
	Category       string  `json:"category"`
	Label          string  `json:"label"`
	Reason         string  `json:"reason"`
	ROIMode        string  `json:"roi_mode"`
	EdgeDensityEMA float64 `json:"edge_density_ema"`
	Threshold      float64 `json:"threshold"`
	BadFrames      int     `json:"bad_frames"`
	BadDurationS   float64 `json:"bad_duration_s"`
	MsgID          string  `json:"msg_id"`
	Seq            uint64  `json:"seq"`
	FrameID        uint64  `json:"frame_id"`
	TCaptureMs     int64   `json:"t_capture_ms"`
	TSendMs        int64   `json:"t_send_ms"`
	TS             string  `json:"ts"`
	Src            string  `json:"src"`
	Plane          string  `json:"plane"`
	Origin         string  `json:"origin"`
}

// NewTrackAlert builds the anomaly alert for the observation that triggered it.
func NewTrackAlert(env Envelope, p Pending, obs anomaly.Observation, threshold float64, v roi.Variant, frameID uint64, captured time.Time) TrackAlert {
	return TrackAlert{
		Type:           TypeAlert,
		Category:       string(detection.CategoryUnknown),
		Label:          "track_anomaly",
		Reason:         "low_track_texture",
		ROIMode:        v.String(),
		EdgeDensityEMA: round(obs.Density, 6),
		Threshold:      threshold,
		BadFrames:      obs.BadFrames,
		BadDurationS:   round(obs.BadDuration.Seconds(), 2),
		MsgID:          p.MsgID,
		Seq:            p.Seq,
		FrameID:        frameID,
		TCaptureMs:     captured.UnixMilli(),
		TSendMs:        p.SentAt.UnixMilli(),
		TS:             FormatTS(p.SentAt),
		Src:            env.Src,
		Plane:          PlaneAlert,
		Origin:         env.Origin,
	}
}

// RTTReport is the AI_RTT telemetry for one accepted acknowledgement.
type RTTReport struct {
	Type     string   `json:"type"`
	MsgID    string   `json:"msg_id"`
	Seq      uint64   `json:"seq"`
	RTTMs    float64  `json:"rtt_ms"`
	JitterMs *float64 `json:"jitter_ms"`
	E2EEstMs float64  `json:"e2e_est_ms"`
	AckFrom  string   `json:"ack_from"`
	TSendMs  int64    `json:"t_send_ms"`
	TAckRxMs int64    `json:"t_ack_rx_ms"`
	AckedBy  []string `json:"acked_by"`
	Complete bool     `json:"complete"`
	TS       string   `json:"ts"`
	Origin   string   `json:"origin"`
}

// NewRTTReport converts an accepted ack result.
func NewRTTReport(env Envelope, r AckResult) RTTReport {
	rtt := durationMs(r.RTT)
	rep := RTTReport{
		Type:     TypeRTT,
		MsgID:    r.MsgID,
		Seq:      r.Seq,
		RTTMs:    rtt,
		E2EEstMs: round(rtt/2, 3),
		AckFrom:  r.Receiver,
		TSendMs:  r.SentAt.UnixMilli(),
		TAckRxMs: r.AckedAt.UnixMilli(),
		AckedBy:  r.AckedBy,
		Complete: r.Complete,
		TS:       FormatTS(r.AckedAt),
		Origin:   env.Origin,
	}
	if r.HasJitter {
		j := durationMs(r.Jitter)
		rep.JitterMs = &j
	}
	return rep
}

// CamMeta describes one published video frame.
type CamMeta struct {
	Type       string `json:"type"`
	FrameID    uint64 `json:"frame_id"`
	TCaptureMs int64  `json:"t_capture_ms"`
	TSendMs    int64  `json:"t_send_ms"`
	JPEGBytes  int    `json:"jpeg_bytes"`
	Width      int    `json:"w"`
	Height     int    `json:"h"`
	Plane      string `json:"plane"`
	Origin     string `json:"origin"`
}

// Status is a service state change on the status topic. Extra fields are
// written at the top level of the message next to the fixed ones.
type Status struct {
	Type    string         `json:"type"`
	Service string         `json:"service"`
	State   string         `json:"state"`
	TS      string         `json:"ts"`
	RunID   string         `json:"run_id"`
	Extra   map[string]any `json:"-"`
}

// MarshalJSON flattens Extra into the message. Fixed fields win over extras
// with the same name.
func (s Status) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(s.Extra)+5)
	for k, v := range s.Extra {
		out[k] = v
	}
	out["type"] = s.Type
	out["service"] = s.Service
	out["state"] = s.State
	out["ts"] = s.TS
	out["run_id"] = s.RunID
	return json.Marshal(out)
}

// NewStatus stamps a status message.
func NewStatus(service, state, runID string, at time.Time, extra map[string]any) Status {
	return Status{Type: TypeStatus, Service: service, State: state, TS: FormatTS(at), RunID: runID, Extra: extra}
}

// RTTSummary aggregates recent accepted RTT samples.
type RTTSummary struct {
	Count    int     `json:"count"`
	MeanMs   float64 `json:"mean_ms"`
	StddevMs float64 `json:"stddev_ms"`
	P95Ms    float64 `json:"p95_ms"`
}

// Heartbeat is the periodic liveness and health report.
type Heartbeat struct {
	Type          string     `json:"type"`
	Service       string     `json:"service"`
	RunID         string     `json:"run_id"`
	TS            string     `json:"ts"`
	Frames        uint64     `json:"frames"`
	FPS           float64    `json:"fps"`
	PendingAlerts int        `json:"pending_alerts"`
	CPUPercent    float64    `json:"cpu_percent"`
	MemPercent    float64    `json:"mem_percent"`
	RTT           RTTSummary `json:"rtt"`
}

// FormatTS renders t in the UTC ts layout.
func FormatTS(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

func durationMs(d time.Duration) float64 {
	return round(float64(d)/float64(time.Millisecond), 3)
}

func round(v float64, places int) float64 {
	p := math.Pow10(places)
	return math.Round(v*p) / p
}
