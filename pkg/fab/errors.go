package fab

import (
	"fmt"
	"strings"

	"github.com/hyperledger/fabric-protos-go/common"
	"github.com/hyperledger/fabric-protos-go/peer"
	"github.com/pkg/errors"
)

// ErrChannelNotFound is returned when the ordering service does not know a channel.
var ErrChannelNotFound = errors.New("channel not found")

// PreconditionError reports a bad target, a wrong channel scope or a missing
// identity. It is raised before any network call.
type PreconditionError struct {
	Msg string
}

func (e *PreconditionError) Error() string {
	return "precondition failed: " + e.Msg
}

// Preconditionf builds a PreconditionError.
func Preconditionf(format string, args ...interface{}) error {
	return &PreconditionError{Msg: fmt.Sprintf(format, args...)}
}

// EndorsementError carries every bad response of a failed endorsement round.
type EndorsementError struct {
	TxID string
	Bad  []*NodeResponse
	Good int
}

func (e *EndorsementError) Error() string {
	details := make([]string, 0, len(e.Bad))
	for _, r := range e.Bad {
		if r.Err != nil {
			details = append(details, fmt.Sprintf("%s: %v", nodeName(r.Node), r.Err))
			continue
		}
		details = append(details, fmt.Sprintf("%s: status %d, message %q", nodeName(r.Node), r.Status, r.Message))
	}
	return fmt.Sprintf("endorsement of %s failed on %d peer(s) (%d good): %s", e.TxID, len(e.Bad), e.Good, strings.Join(details, "; "))
}

// OrderingError reports a non-success answer from the ordering service.
type OrderingError struct {
	TxID   string
	Status common.Status
	Info   string
}

func (e *OrderingError) Error() string {
	return fmt.Sprintf("ordering of %s failed: status %s, info %q", e.TxID, e.Status, e.Info)
}

// CommitTimeoutError reports a peer that did not confirm a commit in time.
type CommitTimeoutError struct {
	Peer string
	TxID string
}

func (e *CommitTimeoutError) Error() string {
	return fmt.Sprintf("timed out waiting for %s to commit %s", e.Peer, e.TxID)
}

// CommitInvalidError reports a peer that committed the transaction as invalid.
type CommitInvalidError struct {
	Peer string
	TxID string
	Code peer.TxValidationCode
}

func (e *CommitInvalidError) Error() string {
	return fmt.Sprintf("peer %s committed %s with validation code %s", e.Peer, e.TxID, e.Code)
}

// EncodingError reports a config document the codec refused to encode.
type EncodingError struct {
	Schema string
	Err    error
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("encoding %s: %v", e.Schema, e.Err)
}

func (e *EncodingError) Cause() error  { return e.Err }
func (e *EncodingError) Unwrap() error { return e.Err }

// DecodingError reports malformed binary config input.
type DecodingError struct {
	Schema string
	Err    error
}

func (e *DecodingError) Error() string {
	return fmt.Sprintf("decoding %s: %v", e.Schema, e.Err)
}

func (e *DecodingError) Cause() error  { return e.Err }
func (e *DecodingError) Unwrap() error { return e.Err }

func nodeName(n Node) string {
	if n.Name != "" {
		return n.Name
	}
	return n.Address
}
