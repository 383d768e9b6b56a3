package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"

	"fieldops/internal/app"
	"fieldops/internal/server"
	"fieldops/internal/template"
)

func main() {
	reg, err := template.New()
	if err != nil {
		panic(err)
	}
	for _, tpl := range reg.Templates() {
		fmt.Printf("template %s property=%q phased=%v tasks=%d\n",
			tpl.Type, tpl.PropertyCode, tpl.Phased(), len(template.Flatten(tpl)))
	}

	workspace := "/tmp/fieldops-check1"
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	a, err := app.Open(workspace, logger)
	if err != nil {
		panic(err)
	}
	defer a.Close()
	h, err := server.New(server.Config{App: a, BasePath: "/v1"})
	if err != nil {
		panic(err)
	}
	ts := httptest.NewServer(h)
	defer ts.Close()

	body := map[string]any{
		"home_id": "home-check",
		"type":    "meet-greet",
	}
	b, _ := json.Marshal(body)
	res, err := http.Post(ts.URL+"/v1/session", "application/json", bytes.NewReader(b))
	if err != nil {
		panic(err)
	}
	defer res.Body.Close()
	var resp any
	_ = json.NewDecoder(res.Body).Decode(&resp)
	fmt.Printf("status=%d resp=%v\n", res.StatusCode, resp)
}
