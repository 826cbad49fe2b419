// Package aula holds the domain types of the classroom reservation
// system: the allocation protocol messages and the inventory model.
//
// The wire protocol is the four-step SOL → PROP → ACK → RES handshake.
// A faculty gateway sends a SOL (solicitud) on behalf of an academic
// program, the broker answers with a PROP (propuesta) holding a
// temporary reservation, the gateway confirms or rejects with an ACK,
// and the broker closes the transaction with a final RES (resolución).
package aula

import (
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Message type discriminator carried in the "tipo" field of every payload.
const (
	TypeSol  = "SOL"
	TypeProp = "PROP"
	TypeAck  = "ACK"
	TypeRes  = "RES"
)

// RES status codes.
const (
	StatusAccepted = "ACCEPTED"
	StatusDenied   = "DENIED"
	StatusCanceled = "CANCELED"

	// Gateway-synthesized statuses. The broker never emits these; the
	// gateway maps transport failures onto them so programs always get
	// a well-formed RES.
	StatusNoServer      = "ERROR_FACULTY_NO_SERVER"
	StatusSendFailed    = "ERROR_FACULTY_SEND_FAILED"
	StatusTimeout       = "ERROR_FACULTY_TIMEOUT"
	StatusDecodeError   = "ERROR_FACULTY_DECODE_ERROR"
	StatusUnexpectedRes = "ERROR_FACULTY_UNEXPECTED_FINAL_RES"
)

// ACK confirmation values.
const (
	ConfirmAccept = "ACCEPT"
	ConfirmReject = "REJECT"
)

// Request is what an academic program sends to its faculty gateway.
type Request struct {
	Programa     string `json:"programa"`
	Salones      int    `json:"salones"`
	Laboratorios int    `json:"laboratorios"`
}

// Sol is the allocation request a gateway forwards to the broker.
type Sol struct {
	Tipo          string `json:"tipo"`
	TransactionID string `json:"transaction_id"`
	Programa      string `json:"programa"`
	Salones       int    `json:"salones"`
	Laboratorios  int    `json:"laboratorios"`
	FacultyID     int    `json:"faculty_id"`
	ProgramID     int    `json:"program_id"`
	Facultad      string `json:"facultad"`
	Semester      string `json:"semester"`
}

// Proposal is the broker's allocation plan. AulasMoviles counts regular
// classrooms temporarily adapted as substitute labs.
type Proposal struct {
	Salones      int `json:"salones_propuestos"`
	Laboratorios int `json:"laboratorios_propuestos"`
	AulasMoviles int `json:"aulas_moviles"`
}

// Prop carries a Proposal back to the gateway while the underlying
// reservation is held PENDING awaiting the ACK.
type Prop struct {
	Tipo          string   `json:"tipo"`
	TransactionID string   `json:"transaction_id"`
	Data          Proposal `json:"data"`
}

// Ack confirms or rejects a proposal.
type Ack struct {
	Tipo          string `json:"tipo"`
	TransactionID string `json:"transaction_id"`
	Confirm       string `json:"confirm"`
	Reason        string `json:"reason,omitempty"`
}

// Res is the final resolution of a transaction. The proposal fields are
// only present on ACCEPTED responses.
type Res struct {
	Tipo          string `json:"tipo"`
	Status        string `json:"status"`
	TransactionID string `json:"transaction_id"`
	Salones       *int   `json:"salones_propuestos,omitempty"`
	Laboratorios  *int   `json:"laboratorios_propuestos,omitempty"`
	AulasMoviles  *int   `json:"aulas_moviles,omitempty"`
	Reason        string `json:"reason,omitempty"`
}

// AcceptedRes builds the RES for a confirmed reservation, flattening
// the proposal into the response the way the original protocol does.
func AcceptedRes(tx string, p Proposal) Res {
	s, l, m := p.Salones, p.Laboratorios, p.AulasMoviles
	return Res{
		Tipo:          TypeRes,
		Status:        StatusAccepted,
		TransactionID: tx,
		Salones:       &s,
		Laboratorios:  &l,
		AulasMoviles:  &m,
	}
}

// ErrorRes builds a RES with the given status and reason.
func ErrorRes(tx, status, reason string) Res {
	return Res{Tipo: TypeRes, Status: status, TransactionID: tx, Reason: reason}
}

// envelope is the minimal shape peeked at ingress to dispatch on tipo.
type envelope struct {
	Tipo          string `json:"tipo"`
	TransactionID string `json:"transaction_id"`
}

// Decode parses a raw payload once at ingress and returns the typed
// message: *Sol, *Prop, *Ack or *Res.
func Decode(data []byte) (any, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode message envelope: %w", err)
	}
	switch env.Tipo {
	case TypeSol:
		var m Sol
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("decode SOL: %w", err)
		}
		return &m, nil
	case TypeProp:
		var m Prop
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("decode PROP: %w", err)
		}
		return &m, nil
	case TypeAck:
		var m Ack
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("decode ACK: %w", err)
		}
		return &m, nil
	case TypeRes:
		var m Res
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("decode RES: %w", err)
		}
		return &m, nil
	default:
		return nil, fmt.Errorf("unknown message type %q", env.Tipo)
	}
}

// NewTransactionID returns the 8-hex token that identifies one SOL
// through its final RES.
func NewTransactionID() string {
	u := uuid.New()
	return hex.EncodeToString(u[:4])
}
