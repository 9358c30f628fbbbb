package analyzer

import (
	"archive/zip"
	"bytes"
	"encoding/base64"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/dhcgn/ico-scan/document"
	"github.com/dhcgn/ico-scan/ico"
)

func newTestAnalyzer() *Analyzer {
	return New(Options{Exclusions: ico.DefaultExclusions}, nil)
}

func docxAttachment(t *testing.T, text string) string {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("word/document.xml")
	if err != nil {
		t.Fatalf("zip create: %v", err)
	}
	body := `<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body><w:p><w:r><w:t>` +
		text + `</w:t></w:r></w:p></w:body></w:document>`
	if _, err := w.Write([]byte(body)); err != nil {
		t.Fatalf("zip write: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zip close: %v", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

func TestAnalyze(t *testing.T) {
	tests := []struct {
		name        string
		raw         string
		want        []string
		declaration bool
		candidates  int
	}{
		{
			name: "numbers without declaration are gated",
			raw: "Subject: Faktura 25596641\n" +
				"Content-Type: text/plain; charset=utf-8\n" +
				"\n" +
				"Dodavatel IČO 27074358\n",
			want:        nil,
			declaration: false,
			candidates:  2,
		},
		{
			name: "declaration without numbers",
			raw: "Subject: =?UTF-8?Q?=C4=8Cestn=C3=A9_prohl=C3=A1=C5=A1en=C3=AD?=\n" +
				"\n" +
				"Bez identifikace.\n",
			want:        nil,
			declaration: true,
		},
		{
			name: "declaration in encoded subject with numbers in body",
			raw: "Subject: =?UTF-8?Q?=C4=8Cestn=C3=A9_prohl=C3=A1=C5=A1en=C3=AD?=\n" +
				"Content-Type: text/plain; charset=utf-8\n" +
				"\n" +
				"IČO: 2559 6641, partner 27074358, nase 45245053\n",
			want:        []string{"25596641", "27074358"},
			declaration: true,
			candidates:  2,
		},
		{
			name: "same number in subject and filename yields one row",
			raw: "Subject: IČO 25596641\n" +
				"MIME-Version: 1.0\n" +
				"Content-Type: multipart/mixed; boundary=XYZ\n" +
				"\n" +
				"--XYZ\n" +
				"Content-Type: text/plain\n" +
				"\n" +
				"viz priloha\n" +
				"--XYZ\n" +
				"Content-Type: application/octet-stream\n" +
				"Content-Disposition: attachment; filename=\"cestne prohlaseni 25596641.zip\"\n" +
				"Content-Transfer-Encoding: base64\n" +
				"\n" +
				"AAAA\n" +
				"--XYZ--\n",
			want:        []string{"25596641"},
			declaration: true,
			candidates:  1,
		},
		{
			name: "windows-1250 quoted-printable body",
			raw: "Subject: dokumenty\n" +
				"Content-Type: text/html; charset=windows-1250\n" +
				"Content-Transfer-Encoding: quoted-printable\n" +
				"\n" +
				"<p>=C8estn=E9 prohl=E1=9Aen=ED</p><p>I=C8O 49240901</p>\n",
			want:        []string{"49240901"},
			declaration: true,
			candidates:  1,
		},
		{
			name: "docx attachment",
			raw: "Subject: podklady\n" +
				"Content-Type: multipart/mixed; boundary=\"b1\"\n" +
				"\n" +
				"--b1\n" +
				"Content-Type: application/vnd.openxmlformats-officedocument.wordprocessingml.document; name=\"prohlaseni.docx\"\n" +
				"Content-Transfer-Encoding: base64\n" +
				"\n" +
				"{{DOCX}}\n" +
				"--b1--\n",
			want:        []string{"26185610"},
			declaration: true,
			candidates:  1,
		},
		{
			name: "nested multipart and attached message",
			raw: "Subject: Fwd: podklady\n" +
				"Content-Type: multipart/mixed; boundary=outer\n" +
				"\n" +
				"--outer\n" +
				"Content-Type: multipart/alternative; boundary=inner\n" +
				"\n" +
				"--inner\n" +
				"Content-Type: text/plain\n" +
				"\n" +
				"preposilam\n" +
				"--inner--\n" +
				"--outer\n" +
				"Content-Type: message/rfc822\n" +
				"\n" +
				"Subject: puvodni\n" +
				"Content-Type: text/plain; charset=utf-8\n" +
				"\n" +
				"Čestné prohlášení, IČO 00006947\n" +
				"--outer--\n",
			want:        []string{"00006947"},
			declaration: true,
			candidates:  1,
		},
		{
			name: "other content ignored but filename scanned",
			raw: "Subject: sken\n" +
				"Content-Type: multipart/mixed; boundary=b\n" +
				"\n" +
				"--b\n" +
				"Content-Type: text/plain\n" +
				"\n" +
				"Cestne prohlaseni v priloze\n" +
				"--b\n" +
				"Content-Type: application/zip\n" +
				"Content-Disposition: attachment; filename=\"ico_27074358.zip\"\n" +
				"\n" +
				"25596641\n" +
				"--b--\n",
			want:        []string{"27074358"},
			declaration: true,
			candidates:  1,
		},
		{
			name: "missing content type defaults to text",
			raw: "Subject: cestne prohlaseni\n" +
				"\n" +
				"ICO 25596641\n",
			want:        []string{"25596641"},
			declaration: true,
			candidates:  1,
		},
	}

	a := newTestAnalyzer()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := strings.ReplaceAll(tt.raw, "{{DOCX}}", docxAttachment(t, "Čestné prohlášení IČO 26185610"))
			res, err := a.Analyze([]byte(raw))
			if err != nil {
				t.Fatalf("Analyze() error = %v", err)
			}
			if !reflect.DeepEqual(res.ICOs, tt.want) {
				t.Errorf("ICOs = %q, want %q", res.ICOs, tt.want)
			}
			if res.Declaration != tt.declaration {
				t.Errorf("Declaration = %v, want %v", res.Declaration, tt.declaration)
			}
			if res.Candidates != tt.candidates {
				t.Errorf("Candidates = %d, want %d", res.Candidates, tt.candidates)
			}
			if len(res.PartErrors) != 0 {
				t.Errorf("PartErrors = %v, want none", res.PartErrors)
			}
		})
	}
}

func TestAnalyze_BrokenPartIsIsolated(t *testing.T) {
	raw := "Subject: Cestne prohlaseni\n" +
		"Content-Type: multipart/mixed; boundary=b\n" +
		"\n" +
		"--b\n" +
		"Content-Type: application/pdf\n" +
		"Content-Disposition: attachment; filename=\"broken.pdf\"\n" +
		"Content-Transfer-Encoding: base64\n" +
		"\n" +
		base64.StdEncoding.EncodeToString([]byte("%PDF-1.4\nnot really a pdf")) + "\n" +
		"--b\n" +
		"Content-Type: application/msword\n" +
		"Content-Disposition: attachment; filename=\"old.doc\"\n" +
		"\n" +
		"legacy\n" +
		"--b\n" +
		"Content-Type: text/plain\n" +
		"\n" +
		"IČO 25596641\n" +
		"--b--\n"

	res, err := newTestAnalyzer().Analyze([]byte(raw))
	if err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}
	if !reflect.DeepEqual(res.ICOs, []string{"25596641"}) {
		t.Errorf("ICOs = %q, want [25596641]", res.ICOs)
	}
	if len(res.PartErrors) != 2 {
		t.Fatalf("PartErrors = %v, want 2", res.PartErrors)
	}

	first := res.PartErrors[0]
	if first.ContentType != "application/pdf" || first.Filename != "broken.pdf" || first.Path != "0.0" {
		t.Errorf("PartErrors[0] = %+v", first)
	}
	if !errors.Is(res.PartErrors[1], document.ErrUnsupportedFormat) {
		t.Errorf("PartErrors[1] = %v, want ErrUnsupportedFormat", res.PartErrors[1])
	}
}

func TestAnalyze_MalformedEmail(t *testing.T) {
	_, err := newTestAnalyzer().Analyze([]byte("this line is not a header\n\nIČO 25596641 cestne prohlaseni\n"))
	if err == nil {
		t.Fatal("Analyze() error = nil, want error")
	}
}

func TestAnalyze_RendererPanicSkipsEmail(t *testing.T) {
	a := newTestAnalyzer()
	a.render = func(string, string, []byte) (*document.Document, error) {
		panic("boom")
	}

	raw := "Subject: cestne prohlaseni 25596641\n" +
		"Content-Type: application/pdf\n" +
		"\n" +
		"%PDF-1.4\n"

	res, err := a.Analyze([]byte(raw))
	if err == nil {
		t.Fatal("Analyze() error = nil, want error")
	}
	if len(res.ICOs) != 0 {
		t.Errorf("ICOs = %q, want none", res.ICOs)
	}
}

func TestAnalyze_CustomExclusions(t *testing.T) {
	a := New(Options{Exclusions: []string{"25596641"}}, nil)

	raw := "Subject: cestne prohlaseni\n" +
		"\n" +
		"25596641, 45245053\n"

	res, err := a.Analyze([]byte(raw))
	if err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}
	if !reflect.DeepEqual(res.ICOs, []string{"45245053"}) {
		t.Errorf("ICOs = %q, want [45245053]", res.ICOs)
	}
}

func TestAnalyze_UnknownEncodingsAreIgnored(t *testing.T) {
	a := New(Options{Encodings: []string{"x-made-up", "utf-8"}}, nil)

	res, err := a.Analyze([]byte("Subject: cestne prohlaseni\n\nIČO 25596641\n"))
	if err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}
	if !reflect.DeepEqual(res.ICOs, []string{"25596641"}) {
		t.Errorf("ICOs = %q, want [25596641]", res.ICOs)
	}
}

func TestAnalyze_ImperfectStructure(t *testing.T) {
	tests := []struct {
		name       string
		raw        string
		want       []string
		minDefects int
	}{
		{
			name: "multipart without closing boundary",
			raw: "Subject: prohlaseni\n" +
				"Content-Type: multipart/mixed; boundary=XX\n" +
				"\n" +
				"--XX\n" +
				"Content-Type: text/plain\n" +
				"\n" +
				"Cestne prohlaseni, ICO 27074358\n" +
				"--XX\n" +
				"Content-Type: text/plain\n" +
				"\n" +
				"ICO 25596641\n",
			want:       []string{"27074358", "25596641"},
			minDefects: 1,
		},
		{
			name: "truncated after a boundary line",
			raw: "Subject: cestne prohlaseni\n" +
				"Content-Type: multipart/mixed; boundary=XX\n" +
				"\n" +
				"--XX\n" +
				"Content-Type: text/plain\n" +
				"\n" +
				"ICO 27074358\n" +
				"--XX\n",
			want: []string{"27074358"},
		},
		{
			name: "base64 body with stray bytes",
			raw: "Subject: cestne prohlaseni\n" +
				"Content-Type: text/plain\n" +
				"Content-Transfer-Encoding: base64\n" +
				"\n" +
				"SUNPIDI3MDc0MzU4!!!\n",
			want: []string{"27074358"},
		},
		{
			name: "invalid trailing media parameter keeps boundary",
			raw: "Subject: cestne prohlaseni\n" +
				"Content-Type: multipart/mixed; boundary=\"XX\"; bad param\n" +
				"\n" +
				"--XX\n" +
				"Content-Type: text/plain\n" +
				"\n" +
				"ICO 27074358\n" +
				"--XX--\n",
			want: []string{"27074358"},
		},
		{
			name: "invalid disposition parameter keeps filename",
			raw: "Subject: cestne prohlaseni\n" +
				"Content-Type: multipart/mixed; boundary=XX\n" +
				"\n" +
				"--XX\n" +
				"Content-Type: application/zip\n" +
				"Content-Disposition: attachment; filename=\"ico 25596641.zip\"; size\n" +
				"\n" +
				"binary\n" +
				"--XX--\n",
			want: []string{"25596641"},
		},
	}

	a := newTestAnalyzer()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := a.Analyze([]byte(tt.raw))
			if err != nil {
				t.Fatalf("Analyze() error = %v", err)
			}
			if !reflect.DeepEqual(res.ICOs, tt.want) {
				t.Errorf("ICOs = %q, want %q", res.ICOs, tt.want)
			}
			if len(res.PartErrors) != 0 {
				t.Errorf("PartErrors = %v, want none", res.PartErrors)
			}
			if len(res.Defects) < tt.minDefects {
				t.Errorf("Defects = %v, want at least %d", res.Defects, tt.minDefects)
			}
		})
	}
}

func TestAnalyze_MissingBoundaryIsRecorded(t *testing.T) {
	raw := "Subject: cestne prohlaseni\n" +
		"Content-Type: multipart/mixed; boundary=XX\n" +
		"\n" +
		"--XX\n" +
		"Content-Type: text/plain\n" +
		"\n" +
		"ICO 25596641\n"

	res, err := newTestAnalyzer().Analyze([]byte(raw))
	if err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}
	var found bool
	for _, d := range res.Defects {
		if errors.Is(d.Err, ErrMissingBoundary) && d.Path == "0" {
			found = true
		}
	}
	if !found {
		t.Errorf("Defects = %v, want ErrMissingBoundary at 0", res.Defects)
	}
}

func TestDecodeBase64(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"clean", "SUNPIDI3MDc0MzU4", "ICO 27074358"},
		{"line breaks", "SUNP\r\nIDI3\nMDc0MzU4\n", "ICO 27074358"},
		{"stray bytes", "SUNP*IDI3MDc0MzU4!!!", "ICO 27074358"},
		{"padding ends data", "SGk=SGk=", "Hi"},
		{"dangling symbol", "SGkhS", "Hi!"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := string(decodeBase64([]byte(tt.in))); got != tt.want {
				t.Errorf("decodeBase64(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestLenientParams(t *testing.T) {
	got := lenientParams(`multipart/mixed; Boundary="a b"; junk; boundary=other; name = x.pdf`)
	want := map[string]string{"boundary": "a b", "name": "x.pdf"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("lenientParams() = %v, want %v", got, want)
	}
}
