package twilio

import (
	"fmt"

	"github.com/Daskott/sheguard/shared"
	"github.com/twilio/twilio-go"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"
)

type messageCreator interface {
	CreateMessage(params *openapi.CreateMessageParams) (*openapi.ApiV2010Message, error)
}

type ClientWrapper struct {
	messages messageCreator
	config   shared.TwilioConfig
}

func NewClient(config shared.TwilioConfig) *ClientWrapper {
	client := twilio.NewRestClientWithParams(twilio.RestClientParams{
		Username: config.AccountSid,
		Password: config.AuthToken,
	})

	return &ClientWrapper{messages: client.ApiV2010, config: config}
}

// SendMessage sends an SMS through the configured messaging service and
// returns the message sid.
func (cw *ClientWrapper) SendMessage(to, msg string) (string, error) {
	params := &openapi.CreateMessageParams{}
	params.SetMessagingServiceSid(cw.config.MessagingServiceSid)
	params.SetTo(to)
	params.SetBody(msg)

	resp, err := cw.messages.CreateMessage(params)
	if err != nil {
		return "", err
	}

	if resp.ErrorMessage != nil && *resp.ErrorMessage != "" {
		return "", fmt.Errorf("twilio: %v", *resp.ErrorMessage)
	}

	sid := ""
	if resp.Sid != nil {
		sid = *resp.Sid
	}

	return sid, nil
}
