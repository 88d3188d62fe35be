package resilience

import (
	"bytes"
	"net/http"
)

// captureWriter segura a resposta de UMA tentativa em memória. Só a tentativa
// final é repassada ao cliente; uma resposta 503 que vai ser repetida não pode
// vazar bytes no meio do caminho.
type captureWriter struct {
	header http.Header
	body   bytes.Buffer
	status int
	wrote  bool
}

func newCaptureWriter() *captureWriter {
	return &captureWriter{header: make(http.Header), status: http.StatusOK}
}

func (c *captureWriter) Header() http.Header { return c.header }

func (c *captureWriter) WriteHeader(status int) {
	if c.wrote {
		return
	}
	c.wrote = true
	c.status = status
}

func (c *captureWriter) Write(b []byte) (int, error) {
	if !c.wrote {
		c.WriteHeader(http.StatusOK)
	}
	return c.body.Write(b)
}

// copyTo despeja a resposta capturada no writer real.
func (c *captureWriter) copyTo(w http.ResponseWriter) {
	h := w.Header()
	for k, vs := range c.header {
		for _, v := range vs {
			h.Add(k, v)
		}
	}
	w.WriteHeader(c.status)
	_, _ = w.Write(c.body.Bytes())
}
