package slack

import (
	"github.com/slack-go/slack"

	"github.com/haasonsaas/relay/internal/modal"
)

// ModalView renders form as a Block Kit modal with one plain-text input per
// field. Block and action ids match the form so submissions map back to it.
func ModalView(form modal.Form) slack.ModalViewRequest {
	blocks := make([]slack.Block, 0, len(form.Fields))
	for _, field := range form.Fields {
		element := slack.NewPlainTextInputBlockElement(nil, field.ActionID)
		if field.Placeholder != "" {
			element.Placeholder = plainText(field.Placeholder)
		}
		element.Multiline = field.Multiline
		blocks = append(blocks, slack.NewInputBlock(field.BlockID, plainText(field.Label), nil, element))
	}

	submit := form.Submit
	if submit == "" {
		submit = "Submit"
	}
	return slack.ModalViewRequest{
		Type:       slack.VTModal,
		CallbackID: form.CallbackID,
		Title:      plainText(form.Title),
		Submit:     plainText(submit),
		Close:      plainText("Cancel"),
		Blocks:     slack.Blocks{BlockSet: blocks},
	}
}

func plainText(s string) *slack.TextBlockObject {
	return slack.NewTextBlockObject(slack.PlainTextType, s, false, false)
}
