package ingest

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/halcyoncap/mailroom/internal/document"
	"github.com/halcyoncap/mailroom/internal/rules"
)

type stubScanner struct {
	result ScanResult
	err    error
	calls  int
}

func (s *stubScanner) Scan(context.Context, string, []byte) (ScanResult, error) {
	s.calls++
	return s.result, s.err
}

func testConfig() ValidatorConfig {
	return ValidatorConfig{
		MaxFileSize:       1024,
		AllowedExtensions: []string{".pdf", ".xlsx"},
		ScanEnabled:       true,
	}
}

func TestHashDeterminism(t *testing.T) {
	content := []byte("quarterly rent roll")
	first := HashContent(content)
	second := HashContent(content)
	assert.Equal(t, first, second)
	assert.Len(t, first, 64)
	assert.NotEqual(t, first, HashContent([]byte("quarterly rent rolL")))
}

func TestValidatePasses(t *testing.T) {
	scanner := &stubScanner{result: ScanResult{Verdict: VerdictClean}}
	v := NewValidator(testConfig(), scanner, nil, nil)

	result := v.Validate(context.Background(), document.Attachment{
		Filename: "report.pdf",
		Content:  []byte("hello"),
	}, "")

	assert.Equal(t, document.StatusProcessing, result.Status)
	assert.Equal(t, HashContent([]byte("hello")), result.ContentHash)
	assert.Equal(t, 1, scanner.calls)
}

func TestValidateQuarantinesDetection(t *testing.T) {
	scanner := &stubScanner{result: ScanResult{Verdict: VerdictInfected, Signature: "Eicar-Test"}}
	v := NewValidator(testConfig(), scanner, nil, nil)

	result := v.Validate(context.Background(), document.Attachment{
		Filename: "invoice.pdf",
		Content:  []byte("payload"),
	}, "")

	assert.Equal(t, document.StatusQuarantined, result.Status)
	assert.Contains(t, result.Message, "Eicar-Test")
	assert.True(t, result.Status.Terminal())
}

func TestValidateFailsClosedOnScanError(t *testing.T) {
	scanner := &stubScanner{err: errors.New("timeout after 30s")}
	v := NewValidator(testConfig(), scanner, nil, nil)

	result := v.Validate(context.Background(), document.Attachment{
		Filename: "invoice.pdf",
		Content:  []byte("payload"),
	}, "")

	assert.Equal(t, document.StatusAVScanFailed, result.Status)
	assert.NotEqual(t, document.StatusSuccess, result.Status)
}

func TestScanRunsBeforePolicyChecks(t *testing.T) {
	// A file that would fail the extension check is still scanned, and
	// the scan verdict wins.
	scanner := &stubScanner{result: ScanResult{Verdict: VerdictInfected, Signature: "Eicar-Test"}}
	v := NewValidator(testConfig(), scanner, nil, nil)

	result := v.Validate(context.Background(), document.Attachment{
		Filename: "malware.exe",
		Content:  []byte("payload"),
	}, "")

	assert.Equal(t, document.StatusQuarantined, result.Status)
	assert.Equal(t, 1, scanner.calls)
}

func TestValidateRejectsExtension(t *testing.T) {
	v := NewValidator(testConfig(), &stubScanner{}, nil, nil)

	result := v.Validate(context.Background(), document.Attachment{
		Filename: "tool.exe",
		Content:  []byte("x"),
	}, "")

	assert.Equal(t, document.StatusInvalidType, result.Status)
	assert.Contains(t, result.Message, ".exe")
}

func TestValidateRejectsOversize(t *testing.T) {
	v := NewValidator(testConfig(), &stubScanner{}, nil, nil)

	result := v.Validate(context.Background(), document.Attachment{
		Filename: "big.pdf",
		Content:  []byte(strings.Repeat("a", 2048)),
	}, "")

	assert.Equal(t, document.StatusInvalidType, result.Status)
	assert.Contains(t, result.Message, "ceiling")
}

func TestValidateEmptyAttachment(t *testing.T) {
	v := NewValidator(testConfig(), &stubScanner{}, nil, nil)

	result := v.Validate(context.Background(), document.Attachment{}, "")
	assert.Equal(t, document.StatusError, result.Status)
}

func TestPerAssetTypeOverrides(t *testing.T) {
	ruleSet, err := rules.ParseSeed([]byte(`{
		"configuration": {
			"allowed_extensions": {"real_estate": [".csv"]},
			"max_file_size_by_type": {"real_estate": 10}
		}
	}`))
	require.NoError(t, err)
	cache := rules.NewCache(ruleSet, nil)
	v := NewValidator(testConfig(), &stubScanner{}, cache, nil)

	// Override allows .csv where the global list would not.
	result := v.Validate(context.Background(), document.Attachment{
		Filename: "tenants.csv",
		Content:  []byte("a,b"),
	}, "real_estate")
	assert.Equal(t, document.StatusProcessing, result.Status)

	// Override ceiling is tighter than the global one.
	result = v.Validate(context.Background(), document.Attachment{
		Filename: "tenants.csv",
		Content:  []byte(strings.Repeat("a", 11)),
	}, "real_estate")
	assert.Equal(t, document.StatusInvalidType, result.Status)

	// Without the hint, global policy applies.
	result = v.Validate(context.Background(), document.Attachment{
		Filename: "tenants.csv",
		Content:  []byte("a,b"),
	}, "")
	assert.Equal(t, document.StatusInvalidType, result.Status)
}

func TestScanDisabledUsesNoop(t *testing.T) {
	cfg := testConfig()
	cfg.ScanEnabled = false
	scanner := &stubScanner{err: errors.New("should not be called")}
	v := NewValidator(cfg, scanner, nil, nil)

	result := v.Validate(context.Background(), document.Attachment{
		Filename: "report.pdf",
		Content:  []byte("x"),
	}, "")

	assert.Equal(t, document.StatusProcessing, result.Status)
	assert.Zero(t, scanner.calls)
}

func TestParseSignature(t *testing.T) {
	out := "stream: Eicar-Signature FOUND\n\n"
	assert.Equal(t, "Eicar-Signature", parseSignature(out))
	assert.Equal(t, "unknown", parseSignature("no detections"))
}
