package relay

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	validator "github.com/go-playground/validator/v10"
	"github.com/learnloop/chatrelay/internal/domain"
	"github.com/learnloop/chatrelay/internal/errors"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		return name
	})
	return v
}

// inboundFrame is the JSON shape accepted from clients. The tags encode the
// tagged union: a community message names a community and no recipient, a
// direct message the reverse.
type inboundFrame struct {
	Type        domain.EventType `json:"type"        validate:"required,oneof=community_message direct_message"`
	Content     string           `json:"content"     validate:"required"`
	AuthorID    string           `json:"authorId"    validate:"required,max=128"`
	CommunityID string           `json:"communityId" validate:"required_if=Type community_message,excluded_if=Type direct_message,max=128"`
	RecipientID string           `json:"recipientId" validate:"required_if=Type direct_message,excluded_if=Type community_message,max=128"`
}

// DecodeInbound parses one client frame. Any failure is a malformed_event
// AppError; the caller drops the frame and keeps the connection.
func DecodeInbound(raw []byte) (domain.InboundEvent, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '{' {
		return domain.InboundEvent{}, errors.MalformedEvent("frame is not a JSON object", nil)
	}

	var f inboundFrame
	if err := json.Unmarshal(raw, &f); err != nil {
		return domain.InboundEvent{}, errors.MalformedEvent("invalid JSON", err)
	}
	if err := validate.Struct(f); err != nil {
		return domain.InboundEvent{}, errors.MalformedEvent(describe(err), err)
	}
	if strings.TrimSpace(f.Content) == "" {
		return domain.InboundEvent{}, errors.MalformedEvent("content is blank", domain.ErrEmptyContent)
	}

	return domain.InboundEvent{
		Type:        f.Type,
		Content:     f.Content,
		AuthorID:    f.AuthorID,
		CommunityID: f.CommunityID,
		RecipientID: f.RecipientID,
	}, nil
}

func describe(err error) string {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok || len(verrs) == 0 {
		return err.Error()
	}
	fe := verrs[0]
	switch fe.Tag() {
	case "oneof":
		return fmt.Sprintf("unknown event type %q", fe.Value())
	case "required", "required_if":
		return fe.Field() + " is required"
	case "excluded_if":
		return fe.Field() + " is not allowed for this event type"
	default:
		return fe.Field() + " failed " + fe.Tag()
	}
}
