package twilio

import (
	"errors"
	"testing"

	"github.com/Daskott/sheguard/shared"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"
	"github.com/stretchr/testify/assert"
)

type fakeMessages struct {
	params *openapi.CreateMessageParams
	resp   *openapi.ApiV2010Message
	err    error
}

func (f *fakeMessages) CreateMessage(params *openapi.CreateMessageParams) (*openapi.ApiV2010Message, error) {
	f.params = params
	return f.resp, f.err
}

func strPtr(s string) *string { return &s }

func TestSendMessage(t *testing.T) {
	fake := &fakeMessages{resp: &openapi.ApiV2010Message{Sid: strPtr("SM123")}}
	cw := &ClientWrapper{messages: fake, config: shared.TwilioConfig{MessagingServiceSid: "MG456"}}

	sid, err := cw.SendMessage("+8801712345678", "Your code is 123456")
	assert.Nil(t, err)
	assert.Equal(t, "SM123", sid)
	assert.Equal(t, "+8801712345678", *fake.params.To)
	assert.Equal(t, "MG456", *fake.params.MessagingServiceSid)
	assert.Equal(t, "Your code is 123456", *fake.params.Body)
}

func TestSendMessageErrors(t *testing.T) {
	cw := &ClientWrapper{messages: &fakeMessages{err: errors.New("401 unauthorized")}}
	_, err := cw.SendMessage("+8801712345678", "hi")
	assert.NotNil(t, err)

	cw = &ClientWrapper{messages: &fakeMessages{resp: &openapi.ApiV2010Message{ErrorMessage: strPtr("queue overflow")}}}
	_, err = cw.SendMessage("+8801712345678", "hi")
	assert.EqualError(t, err, "twilio: queue overflow")
}
