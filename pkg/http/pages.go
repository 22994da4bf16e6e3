package http

import (
	"bytes"
	"embed"
	"encoding/base64"
	"fmt"
	"html/template"
	"io/fs"
	"strings"

	"github.com/russross/blackfriday/v2"

	"emotion-detector/pkg/audio"
	"emotion-detector/pkg/detector"
	"emotion-detector/pkg/emotion"
	"emotion-detector/pkg/model"
	"emotion-detector/pkg/version"
)

//go:embed templates/*.html content/*.md static/*
var embedded embed.FS

// assets serves /static/ from the embedded tree
var assets fs.FS = embedded

// previewLimit caps the upload size echoed back as an inline audio player
const previewLimit = 8 << 20

type pages struct {
	tmpl       *template.Template
	quickStart template.HTML
	tips       template.HTML
}

func newPages() (*pages, error) {
	tmpl, err := template.New("").Funcs(template.FuncMap{
		"percent":  func(p float64) string { return fmt.Sprintf("%.1f%%", p*100) },
		"percent0": func(p float64) string { return fmt.Sprintf("%.0f%%", p*100) },
		"width":    func(p float64) string { return fmt.Sprintf("%.2f%%", p*100) },
		"count":    formatCount,
		"seconds":  func(s float64) string { return fmt.Sprintf("%.2fs", s) },
		"dbfs":     func(d float64) string { return fmt.Sprintf("%.1f dBFS", d) },
	}).ParseFS(embedded, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}

	p := &pages{tmpl: tmpl}
	if p.quickStart, err = renderMarkdownFile("content/quickstart.md"); err != nil {
		return nil, err
	}
	if p.tips, err = renderMarkdownFile("content/tips.md"); err != nil {
		return nil, err
	}
	return p, nil
}

func renderMarkdownFile(name string) (template.HTML, error) {
	src, err := embedded.ReadFile(name)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", name, err)
	}
	return renderMarkdown(src), nil
}

// renderMarkdown converts trusted, embedded or server-built markdown
func renderMarkdown(src []byte) template.HTML {
	return template.HTML(blackfriday.Run(src))
}

// modelDetails describes the loaded model, or the static facts when it is not ready
func modelDetails(info *model.Info) template.HTML {
	var b strings.Builder
	if info == nil {
		b.WriteString("- **Wav2Vec2** architecture\n")
		fmt.Fprintf(&b, "- **%d emotions** detected\n", emotion.Count)
		b.WriteString("- **SafeTensors** format\n")
		return renderMarkdown([]byte(b.String()))
	}

	arch := info.Architecture
	if arch == "" {
		arch = info.ModelType
	}
	fmt.Fprintf(&b, "- **%s** architecture\n", arch)
	if info.Parameters > 0 {
		fmt.Fprintf(&b, "- **%.1fM** head parameters\n", float64(info.Parameters)/1e6)
	}
	fmt.Fprintf(&b, "- **%.1f MB** weights\n", float64(info.WeightsBytes)/(1<<20))
	fmt.Fprintf(&b, "- **%d emotions** detected\n", info.Labels)
	fmt.Fprintf(&b, "- **%s** format\n", info.Format)
	return renderMarkdown([]byte(b.String()))
}

// pageData is the model for templates/page.html
type pageData struct {
	Version      string
	Accept       string
	Formats      string
	MaxSeconds   int
	QuickStart   template.HTML
	Tips         template.HTML
	ModelDetails template.HTML
	ModelError   string
	ModelDir     string
	Result       *resultView
	Error        *errorView
}

type resultView struct {
	FileName   string
	FileBytes  int
	Label      emotion.Label
	Confidence float64
	Scores     []scoreView
	Duration   float64
	SampleRate int
	Samples    int
	Truncated  bool
	Levels     audio.Levels
	Preview    template.URL
	RequestID  string
}

type scoreView struct {
	Label       emotion.Label
	Probability float64
	Predicted   bool
}

type errorView struct {
	Status  int
	Message string
	Hint    string
}

func (p *pages) base(status ModelStatus, modelDir string) pageData {
	exts := audio.Extensions()
	formats := make([]string, 0, len(audio.SupportedFormats()))
	for _, f := range audio.SupportedFormats() {
		formats = append(formats, strings.ToUpper(string(f)))
	}

	data := pageData{
		Version:    version.Version,
		Accept:     strings.Join(exts, ","),
		Formats:    strings.Join(formats, ", "),
		MaxSeconds: audio.MaxSamples / audio.TargetSampleRate,
		QuickStart: p.quickStart,
		Tips:       p.tips,
		ModelDir:   modelDir,
	}

	var info *model.Info
	if status != nil {
		if m, err := status.Model(); err == nil && m != nil {
			i := m.Info()
			info = &i
		} else if status.State() == model.StateFailed && err != nil {
			data.ModelError = err.Error()
		}
	}
	data.ModelDetails = modelDetails(info)
	return data
}

func newResultView(report *detector.Report, data []byte) *resultView {
	pred := report.Prediction
	view := &resultView{
		FileName:   report.FileName,
		FileBytes:  report.FileBytes,
		Label:      pred.Label,
		Confidence: pred.Confidence,
		Duration:   report.Duration,
		SampleRate: report.SampleRate,
		Samples:    report.SampleCount,
		Truncated:  report.Truncated,
		Levels:     report.Levels,
		RequestID:  report.RequestID,
	}
	for _, s := range pred.Scores() {
		view.Scores = append(view.Scores, scoreView{
			Label:       s.Label,
			Probability: s.Probability,
			Predicted:   s.Label == pred.Label,
		})
	}
	if len(data) > 0 && len(data) <= previewLimit {
		mime := audio.DetectFormat(data, report.FileName).MIMEType()
		view.Preview = template.URL("data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data))
	}
	return view
}

func (p *pages) render(data pageData) ([]byte, error) {
	var buf bytes.Buffer
	if err := p.tmpl.ExecuteTemplate(&buf, "page.html", data); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// formatCount renders an integer with thousands separators
func formatCount(n int) string {
	s := fmt.Sprintf("%d", n)
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	var b strings.Builder
	for i, r := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	if neg {
		return "-" + b.String()
	}
	return b.String()
}
