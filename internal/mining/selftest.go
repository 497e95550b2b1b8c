package mining

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/shizukutanaka/tsurugi/internal/cryptonight"
)

// Known-answer digest of cryptonight("This is a test"). Every width but 2
// must produce consecutive copies of it for repeated inputs.
var singleTestDigest = []byte{
	0xa0, 0x84, 0xf0, 0x1d, 0x14, 0x37, 0xa0, 0x9c,
	0x69, 0x85, 0x40, 0x1b, 0x60, 0xd4, 0x35, 0x54,
	0xae, 0x10, 0x58, 0x02, 0xc5, 0xf5, 0xd8, 0xa9,
	0xb3, 0x25, 0x36, 0x49, 0xc0, 0xbe, 0x66, 0x05,
}

// Known answer for the double kernel over two distinct 43-byte pre-images.
var doubleTestDigest = []byte{
	0x3e, 0xbb, 0x7f, 0x9f, 0x7d, 0x27, 0x3d, 0x7c,
	0x31, 0x8d, 0x86, 0x94, 0x77, 0x55, 0x0c, 0xc8,
	0x00, 0xcf, 0xb1, 0x1b, 0x0c, 0xad, 0xb7, 0xff,
	0xbd, 0xf6, 0xf8, 0x9f, 0x3a, 0x47, 0x1c, 0x59,
	0xb4, 0x77, 0xd5, 0x02, 0xe4, 0xd8, 0x48, 0x7f,
	0x42, 0xdf, 0xe3, 0x8e, 0xed, 0x73, 0x81, 0x7a,
	0xda, 0x91, 0xb7, 0xe2, 0x63, 0xd2, 0x91, 0x71,
	0xb6, 0x5c, 0x44, 0x3a, 0x01, 0x2a, 0x41, 0x22,
}

const (
	singleTestInput = "This is a test"
	doubleTestInput = "The quick brown fox jumps over the lazy dog" +
		"The quick brown fox jumps over the lazy log"
)

// KernelProvider resolves a multiway width to its hashing function.
type KernelProvider func(width int) (cryptonight.HashFn, bool)

// SelfTest verifies every kernel width against the known-answer vectors
// before mining starts. Any mismatch or allocation failure is fatal to the
// caller.
func SelfTest(alloc ContextAllocator, kernel KernelProvider, log *zap.Logger) error {
	ctxs := make([]*cryptonight.Context, 0, 6)
	defer func() {
		for _, ctx := range ctxs {
			alloc.Free(ctx)
		}
	}()
	for i := 0; i < 6; i++ {
		ctx, err := alloc.Alloc()
		if err != nil {
			return fmt.Errorf("self-test allocation: %w", err)
		}
		ctxs = append(ctxs, ctx)
	}

	for _, width := range cryptonight.Widths {
		fn, ok := kernel(width)
		if !ok {
			return fmt.Errorf("self-test: no kernel for width %d", width)
		}

		input, size, want := testVector(width)
		out := make([]byte, width*cryptonight.DigestSize)
		fn(input, size, out, ctxs[:width])

		if !bytes.Equal(out, want) {
			log.Error("Cryptonight hash self-test failed. This might be caused by bad compiler optimizations.",
				zap.Int("width", width))
			return errors.New("cryptonight self-test failed")
		}
	}
	return nil
}

// testVector builds the input buffer, lane size and expected output for one
// kernel width.
func testVector(width int) (input []byte, size int, want []byte) {
	if width == 2 {
		return []byte(doubleTestInput), len(doubleTestInput) / 2, doubleTestDigest
	}
	input = []byte(strings.Repeat(singleTestInput, width))
	want = bytes.Repeat(singleTestDigest, width)
	return input, len(singleTestInput), want
}
