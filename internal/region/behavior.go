package region

import (
	"time"

	"github.com/google/uuid"
	"github.com/tobert/chaosgarden/internal/content"
	"github.com/tobert/chaosgarden/internal/tempo"
)

// BehaviorKind discriminates the four region behaviors of spec.md §3.
type BehaviorKind int

const (
	BehaviorPlayContent BehaviorKind = iota
	BehaviorLatent
	BehaviorApplyProcessing
	BehaviorEmitTrigger
)

func (k BehaviorKind) String() string {
	switch k {
	case BehaviorPlayContent:
		return "play_content"
	case BehaviorLatent:
		return "latent"
	case BehaviorApplyProcessing:
		return "apply_processing"
	case BehaviorEmitTrigger:
		return "emit_trigger"
	default:
		return "unknown"
	}
}

// Behavior is the sum type a Region carries exactly one of.
type Behavior interface {
	Kind() BehaviorKind
}

// PlayContentBehavior references pre-generated content by digest.
type PlayContentBehavior struct {
	ContentDigest content.Digest
}

// Kind implements Behavior.
func (PlayContentBehavior) Kind() BehaviorKind { return BehaviorPlayContent }

// LatentStatus is the latent lifecycle state from spec.md §4.7.
type LatentStatus int

const (
	LatentPending LatentStatus = iota
	LatentRunning
	LatentResolved
	LatentApproved
	LatentRejected
	LatentFailed
	LatentMixedIn
)

func (s LatentStatus) String() string {
	switch s {
	case LatentPending:
		return "pending"
	case LatentRunning:
		return "running"
	case LatentResolved:
		return "resolved"
	case LatentApproved:
		return "approved"
	case LatentRejected:
		return "rejected"
	case LatentFailed:
		return "failed"
	case LatentMixedIn:
		return "mixed_in"
	default:
		return "unknown"
	}
}

// IsTerminal reports whether s has no further transitions.
func (s LatentStatus) IsTerminal() bool {
	return s == LatentRejected || s == LatentFailed || s == LatentMixedIn
}

// ApprovalRecord is one entry in the approval audit trail (spec.md §4.7).
type ApprovalRecord struct {
	DecidedBy uuid.UUID
	DecidedAt time.Time
	Approved  bool
	Reason    string // empty for approvals; populated for rejections
}

// LatentBehavior carries a generation job's parameters and current status.
type LatentBehavior struct {
	Tool       string
	Params     map[string]string
	Status     LatentStatus
	JobID      string
	Progress   float64 // valid while Status == LatentRunning
	ProgressN  int     // sequence number of the last accepted progress update
	Digest     content.Digest
	ContentType string
	DecidedBy  uuid.UUID
	FailReason string
	Audit      []ApprovalRecord
}

// Kind implements Behavior.
func (LatentBehavior) Kind() BehaviorKind { return BehaviorLatent }

// InterpolationKind selects how ApplyProcessingBehavior's curve is sampled
// between control points.
type InterpolationKind int

const (
	InterpolationStep InterpolationKind = iota
	InterpolationLinear
)

// CurvePoint is one (beat, value) point of an automation curve.
type CurvePoint struct {
	Beat  tempo.Beat
	Value float64
}

// ApplyProcessingBehavior drives a node parameter with a pre-computed
// curve.
type ApplyProcessingBehavior struct {
	TargetNodeID uuid.UUID
	Parameter    string
	Curve        []CurvePoint
	Interp       InterpolationKind
}

// Kind implements Behavior.
func (ApplyProcessingBehavior) Kind() BehaviorKind { return BehaviorApplyProcessing }

// EmitTriggerBehavior carries an opaque trigger payload.
type EmitTriggerBehavior struct {
	Payload []byte
}

// Kind implements Behavior.
func (EmitTriggerBehavior) Kind() BehaviorKind { return BehaviorEmitTrigger }

// ValueAt samples the curve at the given beat using the configured
// interpolation. Returns the first point's value before the curve starts
// and the last point's value after it ends.
func (b ApplyProcessingBehavior) ValueAt(at tempo.Beat) float64 {
	if len(b.Curve) == 0 {
		return 0
	}
	if at <= b.Curve[0].Beat {
		return b.Curve[0].Value
	}
	last := b.Curve[len(b.Curve)-1]
	if at >= last.Beat {
		return last.Value
	}
	for i := 1; i < len(b.Curve); i++ {
		if b.Curve[i].Beat < at {
			continue
		}
		prev := b.Curve[i-1]
		next := b.Curve[i]
		if b.Interp == InterpolationStep {
			return prev.Value
		}
		span := float64(next.Beat - prev.Beat)
		if span == 0 {
			return next.Value
		}
		frac := float64(at-prev.Beat) / span
		return prev.Value + (next.Value-prev.Value)*frac
	}
	return last.Value
}
