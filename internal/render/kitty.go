package render

import (
	"encoding/base64"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// kittyPlaceholder is the Unicode placeholder codepoint of the Kitty
// graphics protocol.
const kittyPlaceholder = '\U0010eeee'

// rowDiacritics encode placement row indices on placeholder cells. The
// column of subsequent cells within a row is inferred by the terminal.
var rowDiacritics = []rune{
	0x0305, 0x030D, 0x030E, 0x0310, 0x0312, 0x033D, 0x033E, 0x033F,
	0x0346, 0x034A, 0x034B, 0x034C, 0x0350, 0x0351, 0x0352, 0x0357,
	0x035B, 0x0363, 0x0364, 0x0365, 0x0366, 0x0367, 0x0368, 0x0369,
	0x036A, 0x036B, 0x036C, 0x036D, 0x036E, 0x036F, 0x0483, 0x0484,
}

// GraphicsSupported applies the conservative terminal heuristic: Kitty
// placements are only emitted for terminals that advertise the
// protocol.
func GraphicsSupported() bool {
	if os.Getenv("KITTY_WINDOW_ID") != "" {
		return true
	}
	term := os.Getenv("TERM")
	return strings.Contains(term, "kitty") || strings.Contains(term, "ghostty")
}

// PlaceholderRow renders one row of placeholder cells for an image
// placement. The 24-bit image id travels in the foreground colour.
func PlaceholderRow(imageID uint32, row, cols int) string {
	if row < 0 || row >= len(rowDiacritics) || cols <= 0 {
		return ""
	}
	r := (imageID >> 16) & 0xff
	g := (imageID >> 8) & 0xff
	b := imageID & 0xff

	var sb strings.Builder
	fmt.Fprintf(&sb, "\x1b[38;2;%d;%d;%dm", r, g, b)
	// First cell pins the placement row; later columns are inferred.
	sb.WriteRune(kittyPlaceholder)
	sb.WriteRune(rowDiacritics[row])
	sb.WriteRune(rowDiacritics[0])
	for c := 1; c < cols; c++ {
		sb.WriteRune(kittyPlaceholder)
	}
	sb.WriteString("\x1b[39m")
	return sb.String()
}

// TransmitImage uploads image data and creates a virtual placement the
// placeholder cells refer to. Non-PNG rasters are transcoded through an
// external magick/convert when available; failure falls back to the
// caller's alt-text path.
func TransmitImage(w interface{ Write([]byte) (int, error) }, imageID, placementID uint32, cols, rows int, src string, data []byte) error {
	png, err := ensurePNG(src, data)
	if err != nil {
		return err
	}

	encoded := base64.StdEncoding.EncodeToString(png)
	// Chunked direct transmission, 4 KiB of base64 per escape.
	const chunk = 4096
	first := true
	for len(encoded) > 0 {
		n := chunk
		if n > len(encoded) {
			n = len(encoded)
		}
		more := 0
		if n < len(encoded) {
			more = 1
		}
		var header string
		if first {
			header = fmt.Sprintf("\x1b_Gf=100,t=d,q=2,i=%d,m=%d;", imageID, more)
			first = false
		} else {
			header = fmt.Sprintf("\x1b_Gm=%d;", more)
		}
		if _, err := w.Write([]byte(header + encoded[:n] + "\x1b\\")); err != nil {
			return err
		}
		encoded = encoded[n:]
	}

	// Virtual placement referenced by the placeholder cells.
	placement := fmt.Sprintf("\x1b_Ga=p,U=1,q=2,i=%d,p=%d,c=%d,r=%d\x1b\\", imageID, placementID, cols, rows)
	_, err = w.Write([]byte(placement))
	return err
}

func ensurePNG(src string, data []byte) ([]byte, error) {
	if isPNG(data) {
		return data, nil
	}
	bin, err := exec.LookPath("magick")
	if err != nil {
		bin, err = exec.LookPath("convert")
		if err != nil {
			return nil, fmt.Errorf("no image transcoder available")
		}
	}

	dir, err := os.MkdirTemp("", "shoko-img")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(dir)

	in := filepath.Join(dir, "in"+filepath.Ext(src))
	out := filepath.Join(dir, "out.png")
	if err := os.WriteFile(in, data, 0o600); err != nil {
		return nil, err
	}
	if err := exec.Command(bin, in, out).Run(); err != nil {
		return nil, fmt.Errorf("transcode %q: %w", src, err)
	}
	return os.ReadFile(out)
}

func isPNG(data []byte) bool {
	return len(data) > 8 && data[0] == 0x89 && data[1] == 'P' && data[2] == 'N' && data[3] == 'G'
}
