package signaling

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"
)

type messageType string

const (
	// Client -> relay.
	messageTypeJoin  messageType = "join"
	messageTypeLeave messageType = "leave"

	// Both directions.
	messageTypeOffer     messageType = "offer"
	messageTypeAnswer    messageType = "answer"
	messageTypeCandidate messageType = "candidate"

	// Relay -> client.
	messageTypeUserJoined  messageType = "user-joined"
	messageTypeUsersInRoom messageType = "users-in-room"
	messageTypeUserLeft    messageType = "user-left"
	messageTypeError       messageType = "error"
)

var (
	errUnsupportedType = errors.New("unsupported message type")
	errTrailingData    = errors.New("unexpected trailing data")
)

// Inbound is an event sent by a client. The set of implementations is closed.
type Inbound interface {
	inbound() messageType
}

type JoinEvent struct {
	RoomID        string `json:"roomId" validate:"required,max=256"`
	ParticipantID string `json:"participantId" validate:"required,max=256"`
}

type LeaveEvent struct{}

// OfferEvent, AnswerEvent and CandidateEvent carry opaque negotiation payloads
// addressed to another participant in the sender's room.
type OfferEvent struct {
	TargetParticipantID string          `json:"targetParticipantId" validate:"required,max=256"`
	Offer               json.RawMessage `json:"offer" validate:"required,payload"`
}

type AnswerEvent struct {
	TargetParticipantID string          `json:"targetParticipantId" validate:"required,max=256"`
	Answer              json.RawMessage `json:"answer" validate:"required,payload"`
}

type CandidateEvent struct {
	TargetParticipantID string          `json:"targetParticipantId" validate:"required,max=256"`
	Candidate           json.RawMessage `json:"candidate" validate:"required,payload"`
}

func (JoinEvent) inbound() messageType      { return messageTypeJoin }
func (LeaveEvent) inbound() messageType     { return messageTypeLeave }
func (OfferEvent) inbound() messageType     { return messageTypeOffer }
func (AnswerEvent) inbound() messageType    { return messageTypeAnswer }
func (CandidateEvent) inbound() messageType { return messageTypeCandidate }

// Routed is an inbound event the router forwards to a single participant.
type Routed interface {
	Inbound
	target() string
	// deliver builds what the target receives, stamped with the sender.
	deliver(from string) Outbound
}

func (e OfferEvent) target() string     { return e.TargetParticipantID }
func (e AnswerEvent) target() string    { return e.TargetParticipantID }
func (e CandidateEvent) target() string { return e.TargetParticipantID }

func (e OfferEvent) deliver(from string) Outbound {
	return Offer{Offer: e.Offer, CallerParticipantID: from}
}

func (e AnswerEvent) deliver(from string) Outbound {
	return Answer{Answer: e.Answer, AnswererParticipantID: from}
}

func (e CandidateEvent) deliver(from string) Outbound {
	return Candidate{Candidate: e.Candidate, SenderParticipantID: from}
}

// Outbound is an event the relay sends to a client. The set of
// implementations is closed.
type Outbound interface {
	outbound() messageType
}

type UserJoined struct {
	ParticipantID string `json:"participantId"`
}

type UsersInRoom struct {
	ParticipantIDs []string `json:"participantIds"`
}

type Offer struct {
	Offer               json.RawMessage `json:"offer"`
	CallerParticipantID string          `json:"callerParticipantId"`
}

type Answer struct {
	Answer                json.RawMessage `json:"answer"`
	AnswererParticipantID string          `json:"answererParticipantId"`
}

type Candidate struct {
	Candidate           json.RawMessage `json:"candidate"`
	SenderParticipantID string          `json:"senderParticipantId"`
}

type UserLeft struct {
	ParticipantID string `json:"participantId"`
}

// ErrorMessage is sent to the offending connection only.
type ErrorMessage struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (UserJoined) outbound() messageType   { return messageTypeUserJoined }
func (UsersInRoom) outbound() messageType  { return messageTypeUsersInRoom }
func (Offer) outbound() messageType        { return messageTypeOffer }
func (Answer) outbound() messageType       { return messageTypeAnswer }
func (Candidate) outbound() messageType    { return messageTypeCandidate }
func (UserLeft) outbound() messageType     { return messageTypeUserLeft }
func (ErrorMessage) outbound() messageType { return messageTypeError }

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		return name
	})
	// Payloads are opaque but must be present and non-null.
	_ = v.RegisterValidation("payload", func(fl validator.FieldLevel) bool {
		raw := bytes.TrimSpace(fl.Field().Bytes())
		return len(raw) > 0 && !bytes.Equal(raw, []byte("null"))
	})
	return v
}

// ParseInbound decodes one client frame. Unknown fields, trailing data and
// missing or null required fields are all rejected.
func ParseInbound(data []byte) (Inbound, error) {
	var head struct {
		Type messageType `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, err
	}

	var ev Inbound
	var err error
	switch head.Type {
	case messageTypeJoin:
		var w struct {
			Type messageType `json:"type"`
			JoinEvent
		}
		err = decodeStrictJSON(data, &w)
		ev = w.JoinEvent
	case messageTypeLeave:
		var w struct {
			Type messageType `json:"type"`
		}
		err = decodeStrictJSON(data, &w)
		ev = LeaveEvent{}
	case messageTypeOffer:
		var w struct {
			Type messageType `json:"type"`
			OfferEvent
		}
		err = decodeStrictJSON(data, &w)
		ev = w.OfferEvent
	case messageTypeAnswer:
		var w struct {
			Type messageType `json:"type"`
			AnswerEvent
		}
		err = decodeStrictJSON(data, &w)
		ev = w.AnswerEvent
	case messageTypeCandidate:
		var w struct {
			Type messageType `json:"type"`
			CandidateEvent
		}
		err = decodeStrictJSON(data, &w)
		ev = w.CandidateEvent
	default:
		return nil, fmt.Errorf("%w %q", errUnsupportedType, head.Type)
	}
	if err != nil {
		return nil, err
	}
	if err := validate.Struct(ev); err != nil {
		return nil, describeValidation(head.Type, err)
	}
	return ev, nil
}

func describeValidation(t messageType, err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	fields := lo.Map(verrs, func(fe validator.FieldError, _ int) string {
		if fe.Tag() == "max" {
			return fe.Field() + " (too long)"
		}
		return fe.Field()
	})
	return fmt.Errorf("%s message missing or invalid: %s", t, strings.Join(fields, ", "))
}

func decodeStrictJSON(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errTrailingData
	}
	return nil
}

// MarshalOutbound encodes msg with its "type" discriminator.
func MarshalOutbound(msg Outbound) ([]byte, error) {
	return marshalTagged(msg.outbound(), msg)
}

// MarshalInbound encodes a client event. Used by Go clients and tests.
func MarshalInbound(ev Inbound) ([]byte, error) {
	return marshalTagged(ev.inbound(), ev)
}

func marshalTagged(t messageType, body any) ([]byte, error) {
	fields, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	head, err := json.Marshal(struct {
		Type messageType `json:"type"`
	}{t})
	if err != nil {
		return nil, err
	}
	// Splice {"type":...} and the body's fields into one object.
	if bytes.Equal(fields, []byte("{}")) {
		return head, nil
	}
	out := make([]byte, 0, len(head)+len(fields))
	out = append(out, head[:len(head)-1]...)
	out = append(out, ',')
	out = append(out, fields[1:]...)
	return out, nil
}

// ParseOutbound decodes a relay frame on the client side.
func ParseOutbound(data []byte) (Outbound, error) {
	var head struct {
		Type messageType `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, err
	}

	var w struct {
		Type messageType `json:"type"`
		UserJoined
		UsersInRoom
		Offer
		Answer
		Candidate
		ErrorMessage
	}
	if err := decodeStrictJSON(data, &w); err != nil {
		return nil, err
	}
	switch head.Type {
	case messageTypeUserJoined:
		return w.UserJoined, nil
	case messageTypeUserLeft:
		return UserLeft{ParticipantID: w.UserJoined.ParticipantID}, nil
	case messageTypeUsersInRoom:
		return w.UsersInRoom, nil
	case messageTypeOffer:
		return w.Offer, nil
	case messageTypeAnswer:
		return w.Answer, nil
	case messageTypeCandidate:
		return w.Candidate, nil
	case messageTypeError:
		return w.ErrorMessage, nil
	default:
		return nil, fmt.Errorf("%w %q", errUnsupportedType, head.Type)
	}
}
