package headers

import (
	"strings"
	"testing"

	"golang.org/x/net/http2/hpack"
)

func TestRequestHeadersPseudoSlots(t *testing.T) {
	var rh RequestHeaders
	rh.Add(hpack.HeaderField{Name: ":method", Value: "GET"})
	rh.Add(hpack.HeaderField{Name: ":path", Value: "/api"})
	rh.Add(hpack.HeaderField{Name: "x-custom", Value: "1"})

	if rh.Method != "GET" || rh.Path != "/api" {
		t.Fatalf("pseudo headers not slotted: %+v", rh)
	}
	if v, ok := rh.Get("x-custom"); !ok || v != "1" {
		t.Fatalf("Get(x-custom) = %q, %v", v, ok)
	}
}

func TestRequestHeadersPseudoAfterRegularIsInvalid(t *testing.T) {
	var rh RequestHeaders
	rh.Add(hpack.HeaderField{Name: "x-custom", Value: "1"})
	rh.Add(hpack.HeaderField{Name: ":method", Value: "GET"})
	if !rh.Invalid() {
		t.Fatal("expected Invalid() after pseudo-header following a regular header")
	}
}

func TestRequestHeadersRejectsOverBudget(t *testing.T) {
	var rh RequestHeaders
	big := strings.Repeat("x", MaxHeaderBytes)
	if rh.Add(hpack.HeaderField{Name: "x-big", Value: big}) {
		t.Fatal("expected Add to report over-budget rejection")
	}
}

func TestResponseHeadersStatusReserved(t *testing.T) {
	var h ResponseHeaders
	h.SetStatus("200")
	h.SetHeader("content-type", "text/html")
	fields := h.Fields()
	if fields[0].Name != ":status" || fields[0].Value != "200" {
		t.Fatalf("status not reserved at index 0: %+v", fields[0])
	}
	if len(fields) != 2 || fields[1].Name != "content-type" {
		t.Fatalf("unexpected fields: %+v", fields)
	}
}
