package protocol

import (
	"bytes"
	"encoding/json"
	"io"

	"github.com/pkg/errors"
)

var ErrBadRegistration = errors.New("bad registration")

type AnonymousAuth struct {
	Separator string `json:"separator"`
}

type AuthInfo struct {
	Anonymous *AnonymousAuth `json:"anonymous,omitempty"`
}

// Registration is the first thing a server writes on the dispatcher link.
type Registration struct {
	AppSecret string   `json:"appSecret"`
	AuthInfo  AuthInfo `json:"authInfo"`
}

func NewRegistration(appSecret string) Registration {
	return Registration{
		AppSecret: appSecret,
		AuthInfo:  AuthInfo{Anonymous: &AnonymousAuth{Separator: "-"}},
	}
}

// Encode returns the raw JSON object, not framed.
func (r Registration) Encode() []byte {
	data, _ := json.Marshal(r)
	return data
}

// SplitRegistration consumes a registration object from the head of data.
// ok is false while the object is still incomplete.
func SplitRegistration(data *bytes.Buffer) (reg Registration, ok bool, err error) {
	dec := json.NewDecoder(bytes.NewReader(data.Bytes()))
	if err = dec.Decode(&reg); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return reg, false, nil
		}
		return reg, false, errors.Wrap(ErrBadRegistration, err.Error())
	}
	data.Next(int(dec.InputOffset()))
	return reg, true, nil
}
