// Package ccapitest provides an in-memory CCAPI camera for tests.
package ccapitest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"net"
	"net/http"
	"net/http/httptest"
	"slices"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Range mirrors the CCAPI ability object for numeric settings.
type Range struct {
	Min  int `json:"min"`
	Max  int `json:"max"`
	Step int `json:"step"`
}

// Setting is a fake shooting setting. Ability is a []string or a Range.
type Setting struct {
	Value   any `json:"value"`
	Ability any `json:"ability"`
}

// Request is a recorded request.
type Request struct {
	Method string
	Path   string
	Query  string
}

type pendingEvent struct {
	path  string
	polls int // polls left before the file shows up
}

type fault struct {
	status  int // 0 = drop the connection
	message string
	left    int
}

// Camera is a fake CCAPI camera backed by httptest.Server.
type Camera struct {
	Server *httptest.Server

	mu          sync.Mutex
	requests    []Request
	faults      map[string]*fault // keyed by "METHOD path"
	versions    []string
	files       map[string][]byte // "sd/100CANON/IMG_0001.JPG" -> bytes
	pageSize    int
	events      []string
	eventLag    int
	pending     []pendingEvent
	nextImage   int
	settings    map[string]*Setting
	zoom        *Range
	zoomValue   int
	focus       []string
	liveView    bool
	busy        bool
	writeDelay  time.Duration
	writing     int
	maxWriting  int
	frame       []byte
	displayJPEG []byte
}

// New starts a fake camera with one SD card, one directory and a couple of
// files. Call Close when done.
func New() *Camera {
	c := &Camera{
		faults:   make(map[string]*fault),
		versions: []string{"ver100", "ver110"},
		files: map[string][]byte{
			"sd/100CANON/IMG_0001.JPG": JPEG(64, 48),
			"sd/100CANON/IMG_0002.CR3": bytes.Repeat([]byte{0xAB}, 4096),
		},
		pageSize:  100,
		nextImage: 3,
		settings: map[string]*Setting{
			"av":               {Value: "f5.6", Ability: []string{"f4.0", "f5.6", "f8.0"}},
			"iso":              {Value: "auto", Ability: []string{"auto", "100", "200", "400"}},
			"colortemperature": {Value: 5200, Ability: Range{Min: 2500, Max: 10000, Step: 100}},
			"shootingmodedial": {Value: "m"},
		},
		zoom:        &Range{Min: 0, Max: 50, Step: 1},
		frame:       JPEG(160, 120),
		displayJPEG: JPEG(320, 240),
	}
	c.Server = httptest.NewServer(http.HandlerFunc(c.serve))
	return c
}

// Close shuts the server down.
func (c *Camera) Close() { c.Server.Close() }

// Host returns the server host.
func (c *Camera) Host() string {
	host, _, _ := net.SplitHostPort(c.Server.Listener.Addr().String())
	return host
}

// Port returns the server port.
func (c *Camera) Port() int {
	_, port, _ := net.SplitHostPort(c.Server.Listener.Addr().String())
	n, _ := strconv.Atoi(port)
	return n
}

// Fail makes the next n requests matching method and path answer with
// status and a CCAPI error message. Status 0 drops the connection instead.
func (c *Camera) Fail(method, path string, status int, message string, n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.faults[method+" "+path] = &fault{status: status, message: message, left: n}
}

// SetVersions replaces the API versions advertised at /ccapi.
func (c *Camera) SetVersions(v ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.versions = v
}

// SetBusy makes every write answer 503 "Device busy".
func (c *Camera) SetBusy(busy bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.busy = busy
}

// SetZoom replaces the zoom ability; nil removes power zoom.
func (c *Camera) SetZoom(r *Range) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.zoom = r
}

// SetPageSize changes how many files each listing page holds.
func (c *Camera) SetPageSize(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pageSize = n
}

// SetWriteDelay makes every write take at least d.
func (c *Camera) SetWriteDelay(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writeDelay = d
}

// AddFile stores a file under id.
func (c *Camera) AddFile(id string, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.files[id] = data
}

// QueueEvent stores id and reports it on the next event poll, as the
// camera does after a shot taken with its own shutter button.
func (c *Camera) QueueEvent(id string, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.files[id] = data
	c.events = append(c.events, "/ccapi/ver110/contents/"+id)
}

// SetEventLag delays the addedcontents event of each capture by n polls,
// like a slow card write.
func (c *Camera) SetEventLag(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.eventLag = n
}

// DeleteFile removes a stored file.
func (c *Camera) DeleteFile(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.files, id)
}

// Setting returns the current value of a setting.
func (c *Camera) Setting(key string) any {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.settings[key]; ok {
		return s.Value
	}
	return nil
}

// FocusMoves returns the drive focus actions received.
func (c *Camera) FocusMoves() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.focus)
}

// ZoomValue returns the last zoom position set.
func (c *Camera) ZoomValue() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.zoomValue
}

// MaxConcurrentWrites reports the most writes seen in flight at once.
func (c *Camera) MaxConcurrentWrites() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.maxWriting
}

// Requests returns every request received so far.
func (c *Camera) Requests() []Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.requests)
}

// Count returns how many requests matched method and path exactly.
func (c *Camera) Count(method, path string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, r := range c.requests {
		if r.Method == method && r.Path == path {
			n++
		}
	}
	return n
}

// JPEG renders a w x h gradient as JPEG bytes.
func JPEG(w, h int) []byte {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{uint8(x * 255 / w), uint8(y * 255 / h), 128, 255})
		}
	}
	var buf bytes.Buffer
	_ = jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90})
	return buf.Bytes()
}

func (c *Camera) serve(w http.ResponseWriter, r *http.Request) {
	c.mu.Lock()
	c.requests = append(c.requests, Request{Method: r.Method, Path: r.URL.Path, Query: r.URL.RawQuery})
	f := c.faults[r.Method+" "+r.URL.Path]
	if f != nil && f.left > 0 {
		f.left--
	} else {
		f = nil
	}
	busy := c.busy
	c.mu.Unlock()

	if f != nil {
		if f.status == 0 {
			drop(w)
			return
		}
		writeError(w, f.status, f.message)
		return
	}

	isWrite := r.Method == http.MethodPost || r.Method == http.MethodPut
	if isWrite {
		if busy {
			writeError(w, http.StatusServiceUnavailable, "Device busy")
			return
		}
		defer c.trackWrite()()
	}

	p := strings.TrimPrefix(r.URL.Path, "/ccapi")
	switch {
	case p == "" || p == "/":
		c.handleRoot(w)
	case p == "/ver100/deviceinformation":
		writeJSON(w, map[string]string{
			"manufacturer":    "Canon Inc.",
			"productname":     "Canon EOS R5",
			"serialnumber":    "012345678901",
			"firmwareversion": "1.8.1",
		})
	case p == "/ver100/shooting/control/shutterbutton" && r.Method == http.MethodPost:
		c.handleShutter(w, r)
	case p == "/ver100/event/polling":
		c.handleEvents(w)
	case p == "/ver100/shooting/control/zoom":
		c.handleZoom(w, r)
	case p == "/ver100/shooting/control/drivefocus" && r.Method == http.MethodPost:
		c.handleFocus(w, r)
	case p == "/ver100/shooting/settings" && r.Method == http.MethodGet:
		c.handleSettings(w)
	case strings.HasPrefix(p, "/ver100/shooting/settings/"):
		c.handleSetting(w, r, strings.TrimPrefix(p, "/ver100/shooting/settings/"))
	case p == "/ver100/shooting/liveview" && r.Method == http.MethodPost:
		c.mu.Lock()
		c.liveView = true
		c.mu.Unlock()
		writeJSON(w, map[string]string{})
	case p == "/ver100/shooting/liveview/flip":
		c.handleFlip(w)
	case p == "/ver110/contents":
		c.handleStorages(w)
	case strings.HasPrefix(p, "/ver110/contents/"):
		c.handleContents(w, r, strings.TrimPrefix(p, "/ver110/contents/"))
	default:
		writeError(w, http.StatusNotFound, "Not found")
	}
}

func (c *Camera) trackWrite() func() {
	c.mu.Lock()
	c.writing++
	c.maxWriting = max(c.maxWriting, c.writing)
	delay := c.writeDelay
	c.mu.Unlock()
	time.Sleep(delay)
	return func() {
		c.mu.Lock()
		c.writing--
		c.mu.Unlock()
	}
}

func (c *Camera) handleRoot(w http.ResponseWriter) {
	c.mu.Lock()
	defer c.mu.Unlock()
	doc := make(map[string][]map[string]string, len(c.versions))
	for _, v := range c.versions {
		doc[v] = []map[string]string{{"path": "/ccapi/" + v + "/deviceinformation", "get": "true"}}
	}
	writeJSON(w, doc)
}

func (c *Camera) handleShutter(w http.ResponseWriter, r *http.Request) {
	var body struct {
		AF *bool `json:"af"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.AF == nil {
		writeError(w, http.StatusBadRequest, "Invalid parameter")
		return
	}
	c.mu.Lock()
	id := fmt.Sprintf("sd/100CANON/IMG_%04d.JPG", c.nextImage)
	c.nextImage++
	c.files[id] = JPEG(64, 48)
	c.pending = append(c.pending, pendingEvent{path: "/ccapi/ver110/contents/" + id, polls: c.eventLag})
	c.mu.Unlock()
	writeJSON(w, map[string]string{})
}

func (c *Camera) handleEvents(w http.ResponseWriter) {
	c.mu.Lock()
	var waiting []pendingEvent
	for _, p := range c.pending {
		if p.polls == 0 {
			c.events = append(c.events, p.path)
			continue
		}
		p.polls--
		waiting = append(waiting, p)
	}
	c.pending = waiting
	events := c.events
	c.events = nil
	c.mu.Unlock()
	doc := map[string]any{}
	if len(events) > 0 {
		doc["addedcontents"] = events
	}
	writeJSON(w, doc)
}

func (c *Camera) handleZoom(w http.ResponseWriter, r *http.Request) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.zoom == nil {
		writeError(w, http.StatusNotFound, "Not found")
		return
	}
	if r.Method == http.MethodGet {
		writeJSON(w, map[string]any{"value": c.zoomValue, "ability": c.zoom})
		return
	}
	var body struct {
		Value *int `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Value == nil ||
		*body.Value < c.zoom.Min || *body.Value > c.zoom.Max {
		writeError(w, http.StatusBadRequest, "Invalid parameter")
		return
	}
	c.zoomValue = *body.Value
	writeJSON(w, map[string]string{})
}

var focusActions = []string{"near3", "near2", "near1", "far1", "far2", "far3"}

func (c *Camera) handleFocus(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Value string `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || !slices.Contains(focusActions, body.Value) {
		writeError(w, http.StatusBadRequest, "Invalid parameter")
		return
	}
	c.mu.Lock()
	c.focus = append(c.focus, body.Value)
	c.mu.Unlock()
	writeJSON(w, map[string]string{})
}

func (c *Camera) handleSettings(w http.ResponseWriter) {
	c.mu.Lock()
	defer c.mu.Unlock()
	writeJSON(w, c.settings)
}

func (c *Camera) handleSetting(w http.ResponseWriter, r *http.Request, key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.settings[key]
	if !ok {
		writeError(w, http.StatusNotFound, "Not found")
		return
	}
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, s)
	case http.MethodPut:
		var body struct {
			Value any `json:"value"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Value == nil {
			writeError(w, http.StatusBadRequest, "Invalid parameter")
			return
		}
		if list, ok := s.Ability.([]string); ok && !slices.Contains(list, fmt.Sprint(body.Value)) {
			writeError(w, http.StatusBadRequest, "Invalid parameter")
			return
		}
		s.Value = body.Value
		writeJSON(w, s)
	default:
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

func (c *Camera) handleFlip(w http.ResponseWriter) {
	c.mu.Lock()
	started, frame := c.liveView, c.frame
	c.mu.Unlock()
	if !started {
		writeError(w, http.StatusBadRequest, "Live view not started")
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	_, _ = w.Write(frame)
}

func (c *Camera) handleStorages(w http.ResponseWriter) {
	c.mu.Lock()
	defer c.mu.Unlock()
	writeJSON(w, map[string][]string{"path": prefixed(c.children(""))})
}

func (c *Camera) handleContents(w http.ResponseWriter, r *http.Request, id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if data, ok := c.files[id]; ok {
		if r.URL.Query().Get("kind") == "display" {
			w.Header().Set("Content-Type", "image/jpeg")
			_, _ = w.Write(c.displayJPEG)
			return
		}
		w.Header().Set("Content-Type", contentType(id))
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		_, _ = w.Write(data)
		return
	}

	children := c.children(id)
	if len(children) == 0 {
		writeError(w, http.StatusNotFound, "Not found")
		return
	}
	if strings.Count(id, "/") == 0 {
		writeJSON(w, map[string][]string{"path": prefixed(children)})
		return
	}

	// Directory: paged file listing.
	pages := (len(children) + c.pageSize - 1) / c.pageSize
	q := r.URL.Query()
	if q.Get("kind") == "number" {
		writeJSON(w, map[string]int{"contentsnumber": len(children), "pagenumber": pages})
		return
	}
	page, _ := strconv.Atoi(q.Get("page"))
	if page < 1 {
		page = 1
	}
	if page > pages {
		writeError(w, http.StatusBadRequest, "Invalid parameter")
		return
	}
	lo := (page - 1) * c.pageSize
	hi := min(lo+c.pageSize, len(children))
	writeJSON(w, map[string][]string{"path": prefixed(children[lo:hi])})
}

// children lists the immediate children of prefix among stored files.
// Caller holds mu.
func (c *Camera) children(prefix string) []string {
	seen := map[string]bool{}
	for id := range c.files {
		rest := id
		if prefix != "" {
			if !strings.HasPrefix(id, prefix+"/") {
				continue
			}
			rest = strings.TrimPrefix(id, prefix+"/")
		}
		head, _, _ := strings.Cut(rest, "/")
		if prefix != "" {
			head = prefix + "/" + head
		}
		seen[head] = true
	}
	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func prefixed(ids []string) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = "/ccapi/ver110/contents/" + id
	}
	return out
}

func contentType(id string) string {
	switch strings.ToLower(id[strings.LastIndex(id, ".")+1:]) {
	case "jpg", "jpeg":
		return "image/jpeg"
	case "cr3":
		return "image/x-canon-cr3"
	}
	return "application/octet-stream"
}

func drop(w http.ResponseWriter) {
	hj, ok := w.(http.Hijacker)
	if !ok {
		return
	}
	conn, _, err := hj.Hijack()
	if err == nil {
		conn.Close()
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"message": message})
}
