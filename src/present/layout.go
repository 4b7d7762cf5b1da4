package present

import "fmt"

// Layout is the coarse image layout the engine tracks for each
// presentable image. It only distinguishes the states the presentation
// protocol moves an image through; everything else is the device's
// business.
type Layout uint8

const (
	// LayoutUndefined is the state of a freshly created image whose
	// contents may be discarded by the next transition.
	LayoutUndefined Layout = iota
	// LayoutColorAttachment allows color-attachment writes.
	LayoutColorAttachment
	// LayoutPresentSource allows the display engine to read the image.
	LayoutPresentSource
)

func (l Layout) String() string {
	switch l {
	case LayoutUndefined:
		return "Undefined"
	case LayoutColorAttachment:
		return "ColorAttachment"
	case LayoutPresentSource:
		return "PresentSource"
	}
	return "Unknown"
}

// Access is a device-agnostic memory access mask.
type Access uint32

const (
	AccessNone                 Access = 0
	AccessColorAttachmentWrite Access = 1 << 0
)

// Stage is a device-agnostic pipeline stage mask.
type Stage uint32

const (
	StageTopOfPipe Stage = 1 << iota
	StageColorAttachmentOutput
	StageBottomOfPipe
)

// Barrier is a fully planned layout transition: the old and new layout
// plus the access and stage masks gating it on both sides. It is a
// plain value; the recorder lowers it to whatever the device needs.
type Barrier struct {
	From      Layout
	To        Layout
	SrcAccess Access
	DstAccess Access
	SrcStage  Stage
	DstStage  Stage
}

// PlanTransition computes the barrier for one of the two transitions
// the presentation protocol performs. Entering ColorAttachment needs
// no prior dependency (the old contents are discarded or already
// presented); leaving it gates color writes against nothing further,
// since only the present engine touches the image afterwards.
//
// Any other pair is a contract violation and fails with
// ErrInvalidTransition rather than guessing at a full barrier.
func PlanTransition(from, to Layout) (Barrier, error) {
	switch {
	case (from == LayoutUndefined || from == LayoutPresentSource) && to == LayoutColorAttachment:
		return Barrier{
			From:      from,
			To:        to,
			SrcAccess: AccessNone,
			DstAccess: AccessColorAttachmentWrite,
			SrcStage:  StageTopOfPipe,
			DstStage:  StageColorAttachmentOutput,
		}, nil
	case from == LayoutColorAttachment && to == LayoutPresentSource:
		return Barrier{
			From:      from,
			To:        to,
			SrcAccess: AccessColorAttachmentWrite,
			DstAccess: AccessNone,
			SrcStage:  StageColorAttachmentOutput,
			DstStage:  StageBottomOfPipe,
		}, nil
	}
	return Barrier{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}
