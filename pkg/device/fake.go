package device

import "bytes"

// Fake is an in-memory Device for tests: Write appends to Sent, Read drains
// Reply. Reset records its mode in Resets and never errors.
type Fake struct {
	Sent   bytes.Buffer
	Reply  bytes.Reader
	Resets []ResetMode

	flushed int
}

// NewFake returns a Fake whose Read will serve replyData.
func NewFake(replyData []byte) *Fake {
	f := &Fake{}
	f.Reply.Reset(replyData)
	return f
}

func (f *Fake) Write(p []byte) (int, error) { return f.Sent.Write(p) }
func (f *Fake) Read(p []byte) (int, error)  { return f.Reply.Read(p) }

func (f *Fake) Flush() error {
	f.flushed++
	return nil
}

func (f *Fake) Reset(mode ResetMode) error {
	f.Resets = append(f.Resets, mode)
	return nil
}

var _ Device = (*Fake)(nil)
