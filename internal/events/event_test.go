package events

import (
	"encoding/json"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func frame(name, data string) Frame {
	return Frame{Event: name, Data: json.RawMessage(data)}
}

var _ = Describe("Decode", func() {
	It("decodes status events", func() {
		ev, err := Decode(frame(StatusEventName, `{"status":"Uploading"}`))
		Expect(err).To(BeNil())
		Expect(ev).To(Equal(Event{Kind: KindStatus, Status: "Uploading"}))
	})

	It("decodes progress events", func() {
		ev, err := Decode(frame(ProgressEventName, `{"percent":42.5,"message":"page 3"}`))
		Expect(err).To(BeNil())
		Expect(ev).To(Equal(Event{Kind: KindProgress, Percent: 42.5, Message: "page 3"}))
	})

	It("decodes completion with and without a filename", func() {
		ev, err := Decode(frame(CompleteEventName, `{"status":"Processing complete!"}`))
		Expect(err).To(BeNil())
		Expect(ev.Kind).To(Equal(KindSuccess))
		Expect(ev.Filename).To(BeEmpty())

		ev, err = Decode(frame(CompleteEventName, `{"status":"done","filename":"merged.pdf"}`))
		Expect(err).To(BeNil())
		Expect(ev.Filename).To(Equal("merged.pdf"))
	})

	It("decodes errors, falling back to message", func() {
		ev, err := Decode(frame(ErrorEventName, `{"status":"corrupt file"}`))
		Expect(err).To(BeNil())
		Expect(ev).To(Equal(Event{Kind: KindError, Status: "corrupt file"}))

		ev, err = Decode(frame(ErrorEventName, `{"message":"timeout"}`))
		Expect(err).To(BeNil())
		Expect(ev.Status).To(Equal("timeout"))
	})

	It("carries the request id the backend tagged the event with", func() {
		ev, err := Decode(frame(CompleteEventName, `{"status":"done","filename":"merged.pdf","request_id":"req-1"}`))
		Expect(err).To(BeNil())
		Expect(ev.RequestID).To(Equal("req-1"))

		ev, err = Decode(frame(ProgressEventName, `{"percent":5,"request_id":"req-2"}`))
		Expect(err).To(BeNil())
		Expect(ev.RequestID).To(Equal("req-2"))
	})

	It("accepts frames without data", func() {
		ev, err := Decode(Frame{Event: StatusEventName})
		Expect(err).To(BeNil())
		Expect(ev.Kind).To(Equal(KindStatus))
	})

	It("rejects unknown and malformed frames", func() {
		_, err := Decode(frame("processing_paused", `{}`))
		Expect(err).To(MatchError(ErrUnknownEvent))

		_, err = Decode(frame(HandshakeEventName, `{"sid":"abc"}`))
		Expect(err).To(MatchError(ErrUnknownEvent))

		_, err = Decode(frame(ProgressEventName, `{"percent":"half"}`))
		Expect(err).ToNot(BeNil())
		Expect(err).ToNot(MatchError(ErrUnknownEvent))
	})

	It("round trips frames built by NewFrame", func() {
		f, err := NewFrame(ProgressEventName, map[string]any{"percent": 10, "message": "m"})
		Expect(err).To(BeNil())
		ev, err := Decode(f)
		Expect(err).To(BeNil())
		Expect(ev.Percent).To(Equal(10.0))
	})
})
