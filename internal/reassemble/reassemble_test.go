package reassemble

import (
	"context"
	"encoding/base64"
	"image"
	"image/color"
	"testing"

	"github.com/sammcj/pdf-ocr-compare/internal/raster"
	"github.com/sammcj/pdf-ocr-compare/internal/stitch"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

func pages(n int) []raster.PageImage {
	out := make([]raster.PageImage, n)
	for i := range out {
		img := image.NewRGBA(image.Rect(0, 0, 30, 40))
		img.SetRGBA(1, 1, color.RGBA{A: 255})
		out[i] = raster.NewPageImage(i, img)
	}
	return out
}

func TestReassemble_OnePagePerCanvas(t *testing.T) {
	s, err := stitch.New(stitch.DefaultLayout())
	require.NoError(t, err)

	stitched, err := s.Stitch(pages(13))
	require.NoError(t, err)

	doc, err := New(0, testLogger()).Reassemble(context.Background(), stitched)
	require.NoError(t, err)

	assert.Equal(t, 3, doc.PageCount)
	assert.Equal(t, "%PDF", string(doc.Data[:4]))

	decoded, err := base64.StdEncoding.DecodeString(doc.Base64)
	require.NoError(t, err)
	assert.Equal(t, doc.Data, decoded)

	count, err := raster.PageCount(doc.Data)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestReassemble_Empty(t *testing.T) {
	_, err := New(95, testLogger()).Reassemble(context.Background(), nil)
	assert.ErrorContains(t, err, "no stitched images")
}

func TestReassemble_Cancelled(t *testing.T) {
	s, err := stitch.New(stitch.DefaultLayout())
	require.NoError(t, err)
	stitched, err := s.Stitch(pages(2))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = New(95, testLogger()).Reassemble(ctx, stitched)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNew_QualityBounds(t *testing.T) {
	assert.Equal(t, DefaultJPEGQuality, New(0, testLogger()).quality)
	assert.Equal(t, DefaultJPEGQuality, New(101, testLogger()).quality)
	assert.Equal(t, 75, New(75, testLogger()).quality)
}
