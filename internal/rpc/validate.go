package rpc

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/reva/bridge/pb"
)

// Limits bounds the size of caller-supplied strings.
type Limits struct {
	MaxCommentLength int
	MaxSymbolLength  int
}

func DefaultLimits() Limits {
	return Limits{MaxCommentLength: 4096, MaxSymbolLength: 256}
}

func validateLocation(s string, limits Limits) error {
	if strings.TrimSpace(s) == "" {
		return &InvalidRequestError{Field: "symbol_or_address", Reason: "must not be empty"}
	}
	if limits.MaxSymbolLength > 0 && len(s) > limits.MaxSymbolLength {
		return &InvalidRequestError{
			Field:  "symbol_or_address",
			Reason: fmt.Sprintf("longer than %d bytes", limits.MaxSymbolLength),
		}
	}
	return nil
}

func validateSetComment(req *pb.SetCommentRequest, limits Limits) error {
	if req == nil {
		return &InvalidRequestError{Field: "request", Reason: "missing"}
	}
	if err := validateLocation(req.GetSymbolOrAddress(), limits); err != nil {
		return err
	}

	comment := req.GetComment()
	switch {
	case comment == "":
		return &InvalidRequestError{Field: "comment", Reason: "must not be empty"}
	case strings.ContainsRune(comment, 0):
		return &InvalidRequestError{Field: "comment", Reason: "contains NUL"}
	case limits.MaxCommentLength > 0 && len(comment) > limits.MaxCommentLength:
		return &InvalidRequestError{
			Field:  "comment",
			Reason: fmt.Sprintf("longer than %d bytes", limits.MaxCommentLength),
		}
	}
	return nil
}

func validateRenameSymbol(req *pb.RenameSymbolRequest, limits Limits) error {
	if req == nil {
		return &InvalidRequestError{Field: "request", Reason: "missing"}
	}
	if err := validateLocation(req.GetSymbolOrAddress(), limits); err != nil {
		return err
	}

	name := req.GetNewName()
	switch {
	case name == "":
		return &InvalidRequestError{Field: "new_name", Reason: "must not be empty"}
	case strings.IndexFunc(name, func(r rune) bool { return unicode.IsSpace(r) || r == 0 }) >= 0:
		return &InvalidRequestError{Field: "new_name", Reason: "must not contain whitespace"}
	case limits.MaxSymbolLength > 0 && len(name) > limits.MaxSymbolLength:
		return &InvalidRequestError{
			Field:  "new_name",
			Reason: fmt.Sprintf("longer than %d bytes", limits.MaxSymbolLength),
		}
	}
	return nil
}
