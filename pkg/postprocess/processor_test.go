package postprocess

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	assert.Equal(t, "a b c", Normalize("  a\r\n b\t\tc \n"))
	assert.Equal(t, "", Normalize(""))
	assert.Equal(t, "línea uno línea dos", Normalize("línea uno\rlínea dos"))
}

func TestBuildRemitoPattern(t *testing.T) {
	assert.Equal(t,
		`(?i)\b(\d{4}[\s_-]\d{8}|\d{4}[\s_-]\d{8})\b`,
		BuildRemitoPattern([]string{"0001-00001234", "0002-00005678"}))

	assert.Equal(t,
		`(?i)\b(R[\s_-]\d{4}[\s_-]\d{12})\b`,
		BuildRemitoPattern([]string{"R-0001/000000001234"}))

	assert.Equal(t, `(?i)\b(\d{4}[\s_-]\d{4,8})\b`, BuildRemitoPattern(nil))
	assert.Equal(t, `(?i)\b(\d{4}[\s_-]\d{4,8})\b`, BuildRemitoPattern([]string{"--", " "}))
}

func TestProcess(t *testing.T) {
	p, err := New([]string{"0001-00001234", "0002-00005678"}, nil)
	require.NoError(t, err)

	text := "REMITO N° 0003_00012345\nCUIT: 20-12345678-9\nCliente: ACME S.A."
	got, err := p.Process(context.Background(), text)
	require.NoError(t, err)

	assert.Equal(t, "REMITO N° 0003_00012345 CUIT: 20-12345678-9 Cliente: ACME S.A.", got.NormalizedText)
	assert.Equal(t, "20-12345678-9", got.DetectedCUIT)
	assert.Equal(t, "0003_00012345", got.RemitoNumber)
	assert.Equal(t, "cliente", got.CustomerOrVendor)
}

func TestProcessCompactCUITAndVendor(t *testing.T) {
	p, err := New(nil, nil)
	require.NoError(t, err)

	got, err := p.Process(context.Background(), "Proveedor 30712345678 remito 0001 1234")
	require.NoError(t, err)
	assert.Equal(t, "30712345678", got.DetectedCUIT)
	assert.Equal(t, "0001 1234", got.RemitoNumber)
	assert.Equal(t, "proveedor", got.CustomerOrVendor)
}

func TestProcessNothingDetected(t *testing.T) {
	p, err := New(nil, nil)
	require.NoError(t, err)

	got, err := p.Process(context.Background(), "texto sin datos")
	require.NoError(t, err)
	assert.Empty(t, got.DetectedCUIT)
	assert.Empty(t, got.RemitoNumber)
	assert.Empty(t, got.CustomerOrVendor)
}

func TestProcessCancelled(t *testing.T) {
	p, err := New(nil, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = p.Process(ctx, "x")
	assert.ErrorIs(t, err, context.Canceled)
}
