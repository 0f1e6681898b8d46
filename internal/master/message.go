package master

import "log/slog"

// Message is one entry on the session's control queue: every way a
// caller can affect the session other than waiting for it to schedule
// work on its own (grounded on the original
// source's master/messages.rs Message/MasterMsg enums).
type Message struct {
	// Master carries a session-wide control message. Exactly one of
	// Master/Association is set.
	Master *MasterMessage
	// Association carries a message addressed to one association.
	Association *AssociationMessage
}

// MasterMessage is a session-wide control request.
type MasterMessage struct {
	Kind MasterMessageKind

	// AddAssociation fields.
	NewAssociation *Association
	AddResult      func(error)

	// RemoveAssociation fields.
	RemoveAddress EndpointAddress

	// SetDecodeLogLevel fields.
	NewLevel slog.Level

	// GetDecodeLogLevel fields.
	LevelResult func(slog.Level)
}

// MasterMessageKind discriminates the MasterMessage variants.
type MasterMessageKind int

const (
	MsgAddAssociation MasterMessageKind = iota
	MsgRemoveAssociation
	MsgSetDecodeLogLevel
	MsgGetDecodeLogLevel
)

// AssociationMessage addresses a control request at one association,
// failing with onFailure if the address is unknown when it is processed.
type AssociationMessage struct {
	Address   EndpointAddress
	Kind      AssociationMessageKind
	onFailure func(error)

	Task Task

	ConfigurePolls []PollDefinition

	EnabledClasses EventClasses
}

// AssociationMessageKind discriminates the AssociationMessage variants.
type AssociationMessageKind int

const (
	MsgEnqueueTask AssociationMessageKind = iota
	MsgConfigurePolls
	MsgSetEventClasses
)

// OnAssociationFailure invokes the message's failure callback, used when
// the session cannot find the target association.
func (m *AssociationMessage) OnAssociationFailure(err error) {
	if m.onFailure != nil {
		m.onFailure(err)
	}
}

// NewEnqueueTaskMessage builds an AssociationMessage that enqueues an
// ad-hoc task, invoking onFailure if the association does not exist.
func NewEnqueueTaskMessage(address EndpointAddress, task Task, onFailure func(error)) Message {
	return Message{Association: &AssociationMessage{
		Address:   address,
		Kind:      MsgEnqueueTask,
		Task:      task,
		onFailure: onFailure,
	}}
}

// NewConfigurePollsMessage builds an AssociationMessage that replaces an
// association's periodic poll set.
func NewConfigurePollsMessage(address EndpointAddress, polls []PollDefinition, onFailure func(error)) Message {
	return Message{Association: &AssociationMessage{
		Address:        address,
		Kind:           MsgConfigurePolls,
		ConfigurePolls: polls,
		onFailure:      onFailure,
	}}
}

// NewSetEventClassesMessage builds an AssociationMessage that updates
// which classes unsolicited reporting is enabled for.
func NewSetEventClassesMessage(address EndpointAddress, classes EventClasses, onFailure func(error)) Message {
	return Message{Association: &AssociationMessage{
		Address:        address,
		Kind:           MsgSetEventClasses,
		EnabledClasses: classes,
		onFailure:      onFailure,
	}}
}

// NewAddAssociationMessage builds a MasterMessage that registers a new
// association.
func NewAddAssociationMessage(a *Association, result func(error)) Message {
	return Message{Master: &MasterMessage{Kind: MsgAddAssociation, NewAssociation: a, AddResult: result}}
}

// NewRemoveAssociationMessage builds a MasterMessage that deregisters an
// association.
func NewRemoveAssociationMessage(address EndpointAddress) Message {
	return Message{Master: &MasterMessage{Kind: MsgRemoveAssociation, RemoveAddress: address}}
}

// NewSetDecodeLogLevelMessage builds a MasterMessage that changes the
// session's frame decode log level.
func NewSetDecodeLogLevelMessage(level slog.Level) Message {
	return Message{Master: &MasterMessage{Kind: MsgSetDecodeLogLevel, NewLevel: level}}
}

// NewGetDecodeLogLevelMessage builds a MasterMessage that reads back the
// session's current decode log level.
func NewGetDecodeLogLevelMessage(result func(slog.Level)) Message {
	return Message{Master: &MasterMessage{Kind: MsgGetDecodeLogLevel, LevelResult: result}}
}
