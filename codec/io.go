package codec

import (
	"bytes"
	"errors"
	"io"
)

const readChunk = 32 * 1024

// Reader reads frames from a byte stream.
//
// A frame that fails to decode does not poison the stream: the error is
// returned and the next call continues with the following frame. For an
// oversized frame the body is discarded as it arrives.
type Reader struct {
	r     io.Reader
	codec *Codec

	buf     bytes.Buffer
	chunk   []byte
	skip    int64
	readErr error
}

func NewReader(r io.Reader, c *Codec) *Reader {
	if c == nil {
		c = New()
	}
	return &Reader{r: r, codec: c, chunk: make([]byte, readChunk)}
}

// Read decodes the next frame into v.
// It returns io.EOF when the stream ends on a frame boundary, and
// io.ErrUnexpectedEOF when it ends inside a frame.
func (fr *Reader) Read(v any) error {
	for {
		if fr.skip > 0 {
			n := fr.skip
			if n > int64(fr.buf.Len()) {
				n = int64(fr.buf.Len())
			}
			fr.buf.Next(int(n))
			fr.skip -= n
			if fr.skip > 0 {
				if err := fr.fill(); err != nil {
					return err
				}
				continue
			}
		}

		ok, err := fr.codec.Decode(&fr.buf, v)
		if err != nil {
			var tooLarge *MessageTooLargeError
			if errors.As(err, &tooLarge) {
				fr.buf.Next(prefixLen)
				fr.skip = tooLarge.Size
			}
			return err
		}
		if ok {
			return nil
		}
		if err := fr.fill(); err != nil {
			return err
		}
	}
}

func (fr *Reader) fill() error {
	if fr.readErr != nil {
		return fr.eofErr(fr.readErr)
	}
	n, err := fr.r.Read(fr.chunk)
	fr.buf.Write(fr.chunk[:n])
	if err != nil {
		fr.readErr = err
		if n == 0 {
			return fr.eofErr(err)
		}
	}
	return nil
}

func (fr *Reader) eofErr(err error) error {
	if err == io.EOF && (fr.buf.Len() > 0 || fr.skip > 0) {
		return io.ErrUnexpectedEOF
	}
	return err
}

// Writer writes frames to a byte stream, one Write call per frame.
// It is not safe for concurrent use; give it a single owner.
type Writer struct {
	w       io.Writer
	codec   *Codec
	scratch bytes.Buffer
}

func NewWriter(w io.Writer, c *Codec) *Writer {
	if c == nil {
		c = New()
	}
	return &Writer{w: w, codec: c}
}

func (fw *Writer) Write(v any) error {
	fw.scratch.Reset()
	if err := fw.codec.Encode(&fw.scratch, v); err != nil {
		return err
	}
	if _, err := fw.w.Write(fw.scratch.Bytes()); err != nil {
		return err
	}
	if f, ok := fw.w.(interface{ Flush() error }); ok {
		return f.Flush()
	}
	return nil
}
