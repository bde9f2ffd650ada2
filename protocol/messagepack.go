package protocol

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
	"github.com/vmihailenco/msgpack/v5/msgpcode"
)

// Completion result kinds.
const (
	resultKindError   = 1
	resultKindVoid    = 2
	resultKindNonVoid = 3
)

// MessagePackProtocol is the binary hub protocol. Every record is a msgpack
// array whose first element is the MessageType, prefixed by its varint length:
//
//	[1, Headers, InvocationId, Target, [Arguments], [StreamIds]?]
//	[2, Headers, InvocationId, Item]
//	[3, Headers, InvocationId, ResultKind, Result?]
//	[4, Headers, InvocationId, Target, [Arguments], [StreamIds]?]
//	[5, Headers, InvocationId]
//	[6]
//	[7, Error, AllowReconnect?]
type MessagePackProtocol struct{}

// NewMessagePackProtocol returns the MessagePack hub protocol.
func NewMessagePackProtocol() *MessagePackProtocol {
	return &MessagePackProtocol{}
}

// Name implements HubProtocol.
func (*MessagePackProtocol) Name() string { return "messagepack" }

// Version implements HubProtocol.
func (*MessagePackProtocol) Version() int { return 1 }

// TransferFormat implements HubProtocol.
func (*MessagePackProtocol) TransferFormat() TransferFormat { return TransferFormatBinary }

// WriteMessage implements HubProtocol.
func (p *MessagePackProtocol) WriteMessage(m Message) ([]byte, error) {
	var record bytes.Buffer
	if err := encodeRecord(msgpack.NewEncoder(&record), m); err != nil {
		return nil, err
	}

	frame := make([]byte, 0, uvarintSize(uint64(record.Len()))+record.Len())
	frame = AppendUvarint(frame, uint64(record.Len()))
	return append(frame, record.Bytes()...), nil
}

// ParseMessages implements HubProtocol.
func (p *MessagePackProtocol) ParseMessages(data []byte) ([]Message, error) {
	var (
		messages []Message
		errs     []error
	)

	for len(data) > 0 {
		length, n, err := DecodeUvarint(data)
		if err != nil {
			errs = append(errs, &DecodeError{Err: err})
			break
		}
		if uint64(len(data)-n) < length {
			errs = append(errs, &DecodeError{Err: fmt.Errorf("need %d bytes, have %d: %w", length, len(data)-n, ErrIncompleteFrame)})
			break
		}

		record := data[n : n+int(length)]
		data = data[n+int(length):]

		m, err := decodeRecord(record)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		messages = append(messages, m)
	}

	return messages, errors.Join(errs...)
}

func encodeRecord(enc *msgpack.Encoder, m Message) error {
	switch v := m.(type) {
	case *InvocationMessage:
		return encodeRecord(enc, *v)
	case *StreamInvocationMessage:
		return encodeRecord(enc, *v)
	case *StreamItemMessage:
		return encodeRecord(enc, *v)
	case *CompletionMessage:
		return encodeRecord(enc, *v)
	case *CancelInvocationMessage:
		return encodeRecord(enc, *v)
	case *PingMessage:
		return encodeRecord(enc, *v)
	case *CloseMessage:
		return encodeRecord(enc, *v)

	case InvocationMessage:
		return encodeTargeted(enc, InvocationType, v.Headers, v.InvocationID, v.Target, v.Arguments, v.StreamIDs)
	case StreamInvocationMessage:
		return encodeTargeted(enc, StreamInvocationType, v.Headers, v.InvocationID, v.Target, v.Arguments, v.StreamIDs)
	case StreamItemMessage:
		return encodeAll(
			enc.EncodeArrayLen(4),
			enc.EncodeInt(int64(StreamItemType)),
			encodeHeaders(enc, v.Headers),
			enc.EncodeString(v.InvocationID),
			enc.Encode(NormalizeArgument(v.Item)),
		)
	case CompletionMessage:
		switch {
		case v.Error != "":
			return encodeAll(
				enc.EncodeArrayLen(5),
				enc.EncodeInt(int64(CompletionType)),
				encodeHeaders(enc, v.Headers),
				enc.EncodeString(v.InvocationID),
				enc.EncodeInt(resultKindError),
				enc.EncodeString(v.Error),
			)
		case v.HasResult:
			return encodeAll(
				enc.EncodeArrayLen(5),
				enc.EncodeInt(int64(CompletionType)),
				encodeHeaders(enc, v.Headers),
				enc.EncodeString(v.InvocationID),
				enc.EncodeInt(resultKindNonVoid),
				enc.Encode(NormalizeArgument(v.Result)),
			)
		default:
			return encodeAll(
				enc.EncodeArrayLen(4),
				enc.EncodeInt(int64(CompletionType)),
				encodeHeaders(enc, v.Headers),
				enc.EncodeString(v.InvocationID),
				enc.EncodeInt(resultKindVoid),
			)
		}
	case CancelInvocationMessage:
		return encodeAll(
			enc.EncodeArrayLen(3),
			enc.EncodeInt(int64(CancelInvocationType)),
			encodeHeaders(enc, v.Headers),
			enc.EncodeString(v.InvocationID),
		)
	case PingMessage:
		return encodeAll(
			enc.EncodeArrayLen(1),
			enc.EncodeInt(int64(PingType)),
		)
	case CloseMessage:
		return encodeAll(
			enc.EncodeArrayLen(3),
			enc.EncodeInt(int64(CloseType)),
			encodeOptionalString(enc, v.Error),
			enc.EncodeBool(v.AllowReconnect),
		)
	}

	if m == nil {
		return fmt.Errorf("nil message: %w", ErrUnsupportedMessage)
	}
	return fmt.Errorf("%s: %w", m.Type(), ErrUnsupportedMessage)
}

// encodeAll returns the first error of an eagerly evaluated encode sequence.
func encodeAll(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

func encodeTargeted(enc *msgpack.Encoder, t MessageType, headers map[string]string, id, target string, args []interface{}, streamIDs []string) error {
	n := 5
	if len(streamIDs) > 0 {
		n++
	}

	if err := encodeAll(
		enc.EncodeArrayLen(n),
		enc.EncodeInt(int64(t)),
		encodeHeaders(enc, headers),
		encodeOptionalString(enc, id),
		enc.EncodeString(target),
		enc.EncodeArrayLen(len(args)),
	); err != nil {
		return err
	}

	for i, arg := range args {
		if err := enc.Encode(NormalizeArgument(arg)); err != nil {
			return fmt.Errorf("encode argument %d of %s: %w", i, target, err)
		}
	}

	if len(streamIDs) > 0 {
		if err := enc.EncodeArrayLen(len(streamIDs)); err != nil {
			return err
		}
		for _, sid := range streamIDs {
			if err := enc.EncodeString(sid); err != nil {
				return err
			}
		}
	}

	return nil
}

func encodeHeaders(enc *msgpack.Encoder, headers map[string]string) error {
	if err := enc.EncodeMapLen(len(headers)); err != nil {
		return err
	}
	for k, v := range headers {
		if err := encodeAll(enc.EncodeString(k), enc.EncodeString(v)); err != nil {
			return err
		}
	}
	return nil
}

func encodeOptionalString(enc *msgpack.Encoder, s string) error {
	if s == "" {
		return enc.EncodeNil()
	}
	return enc.EncodeString(s)
}

// recordDecoder wraps a msgpack decoder positioned inside a record array.
type recordDecoder struct {
	*msgpack.Decoder
	t MessageType
	n int
}

func (d *recordDecoder) fail(format string, args ...interface{}) error {
	return &DecodeError{Type: d.t, Err: fmt.Errorf(format, args...)}
}

func (d *recordDecoder) need(n int) error {
	if d.n < n {
		return d.fail("record has %d elements, need %d", d.n, n)
	}
	return nil
}

func decodeRecord(record []byte) (Message, error) {
	dec := msgpack.NewDecoder(bytes.NewReader(record))
	dec.UseLooseInterfaceDecoding(true)

	n, err := dec.DecodeArrayLen()
	if err != nil {
		return nil, &DecodeError{Err: fmt.Errorf("record is not an array: %w", err)}
	}
	if n < 1 {
		return nil, &DecodeError{Err: errors.New("empty record")}
	}

	t, err := dec.DecodeInt()
	if err != nil {
		return nil, &DecodeError{Err: fmt.Errorf("message type: %w", err)}
	}

	d := &recordDecoder{Decoder: dec, t: MessageType(t), n: n}

	switch d.t {
	case InvocationType:
		return d.decodeInvocation()
	case StreamItemType:
		return d.decodeStreamItem()
	case CompletionType:
		return d.decodeCompletion()
	case StreamInvocationType:
		return d.decodeStreamInvocation()
	case CancelInvocationType:
		return d.decodeCancelInvocation()
	case PingType:
		return PingMessage{}, nil
	case CloseType:
		return d.decodeClose()
	default:
		return nil, &DecodeError{Type: d.t, Err: ErrUnknownMessageType}
	}
}

func (d *recordDecoder) decodeInvocation() (Message, error) {
	if err := d.need(5); err != nil {
		return nil, err
	}

	headers, id, target, err := d.decodeTargetHeader()
	if err != nil {
		return nil, err
	}

	args, err := d.decodeArguments()
	if err != nil {
		return InvocationBindingFailureMessage{InvocationID: id, Target: target, Err: err}, nil
	}

	streamIDs, err := d.decodeStreamIDs(5)
	if err != nil {
		return nil, err
	}

	return InvocationMessage{
		Headers:      headers,
		InvocationID: id,
		Target:       target,
		Arguments:    args,
		StreamIDs:    streamIDs,
	}, nil
}

func (d *recordDecoder) decodeStreamInvocation() (Message, error) {
	if err := d.need(5); err != nil {
		return nil, err
	}

	headers, id, target, err := d.decodeTargetHeader()
	if err != nil {
		return nil, err
	}

	args, err := d.decodeArguments()
	if err != nil {
		return nil, d.fail("arguments: %w", err)
	}

	streamIDs, err := d.decodeStreamIDs(5)
	if err != nil {
		return nil, err
	}

	return StreamInvocationMessage{
		Headers:      headers,
		InvocationID: id,
		Target:       target,
		Arguments:    args,
		StreamIDs:    streamIDs,
	}, nil
}

func (d *recordDecoder) decodeStreamItem() (Message, error) {
	if err := d.need(4); err != nil {
		return nil, err
	}

	headers, id, err := d.decodeHeaderAndID()
	if err != nil {
		return nil, err
	}

	item, err := d.DecodeInterfaceLoose()
	if err != nil {
		return nil, d.fail("item: %w", err)
	}

	return StreamItemMessage{Headers: headers, InvocationID: id, Item: item}, nil
}

func (d *recordDecoder) decodeCompletion() (Message, error) {
	if err := d.need(4); err != nil {
		return nil, err
	}

	headers, id, err := d.decodeHeaderAndID()
	if err != nil {
		return nil, err
	}

	kind, err := d.DecodeInt()
	if err != nil {
		return nil, d.fail("result kind: %w", err)
	}

	m := CompletionMessage{Headers: headers, InvocationID: id}

	switch kind {
	case resultKindError:
		if err := d.need(5); err != nil {
			return nil, err
		}
		if m.Error, err = d.DecodeString(); err != nil {
			return nil, d.fail("error: %w", err)
		}
		if m.Error == "" {
			return nil, d.fail("error completion without message")
		}
	case resultKindVoid:
	case resultKindNonVoid:
		if err := d.need(5); err != nil {
			return nil, err
		}
		if m.Result, err = d.DecodeInterfaceLoose(); err != nil {
			return nil, d.fail("result: %w", err)
		}
		m.HasResult = true
	default:
		return nil, d.fail("invalid result kind %d", kind)
	}

	return m, nil
}

func (d *recordDecoder) decodeCancelInvocation() (Message, error) {
	if err := d.need(3); err != nil {
		return nil, err
	}

	headers, id, err := d.decodeHeaderAndID()
	if err != nil {
		return nil, err
	}

	return CancelInvocationMessage{Headers: headers, InvocationID: id}, nil
}

func (d *recordDecoder) decodeClose() (Message, error) {
	if err := d.need(2); err != nil {
		return nil, err
	}

	var (
		m   CloseMessage
		err error
	)
	if m.Error, err = d.decodeOptionalString(); err != nil {
		return nil, d.fail("error: %w", err)
	}
	if d.n >= 3 {
		if m.AllowReconnect, err = d.DecodeBool(); err != nil {
			return nil, d.fail("allow reconnect: %w", err)
		}
	}

	return m, nil
}

func (d *recordDecoder) decodeHeaderAndID() (map[string]string, string, error) {
	headers, err := d.decodeHeaders()
	if err != nil {
		return nil, "", d.fail("headers: %w", err)
	}
	id, err := d.decodeOptionalString()
	if err != nil {
		return nil, "", d.fail("invocation id: %w", err)
	}
	return headers, id, nil
}

func (d *recordDecoder) decodeTargetHeader() (map[string]string, string, string, error) {
	headers, id, err := d.decodeHeaderAndID()
	if err != nil {
		return nil, "", "", err
	}
	target, err := d.DecodeString()
	if err != nil {
		return nil, "", "", d.fail("target: %w", err)
	}
	return headers, id, target, nil
}

func (d *recordDecoder) decodeHeaders() (map[string]string, error) {
	n, err := d.DecodeMapLen()
	if err != nil {
		return nil, err
	}
	if n <= 0 {
		return nil, nil
	}

	headers := make(map[string]string, n)
	for i := 0; i < n; i++ {
		k, err := d.DecodeString()
		if err != nil {
			return nil, err
		}
		v, err := d.DecodeString()
		if err != nil {
			return nil, err
		}
		headers[k] = v
	}
	return headers, nil
}

func (d *recordDecoder) decodeArguments() ([]interface{}, error) {
	n, err := d.DecodeArrayLen()
	if err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, errors.New("arguments are nil")
	}

	args := make([]interface{}, n)
	for i := range args {
		if args[i], err = d.DecodeInterfaceLoose(); err != nil {
			return nil, fmt.Errorf("argument %d: %w", i, err)
		}
	}
	return args, nil
}

// decodeStreamIDs reads the optional stream id array found at index pos.
func (d *recordDecoder) decodeStreamIDs(pos int) ([]string, error) {
	if d.n <= pos {
		return nil, nil
	}

	n, err := d.DecodeArrayLen()
	if err != nil {
		return nil, d.fail("stream ids: %w", err)
	}
	if n <= 0 {
		return nil, nil
	}

	ids := make([]string, n)
	for i := range ids {
		if ids[i], err = d.DecodeString(); err != nil {
			return nil, d.fail("stream id %d: %w", i, err)
		}
	}
	return ids, nil
}

func (d *recordDecoder) decodeOptionalString() (string, error) {
	c, err := d.PeekCode()
	if err != nil {
		return "", err
	}
	if c == msgpcode.Nil {
		return "", d.DecodeNil()
	}
	return d.DecodeString()
}
