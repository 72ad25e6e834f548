package fakedevice

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"strconv"

	"github.com/qedl/qflash/internal/interfaces"
)

var _ interfaces.Transport = (*Transport)(nil)

// Transport is an interfaces.Transport that answers Firehose requests
// against a Device in-process instead of a serial/USB channel, letting
// tests run the real firehose.Engine end to end.
type Transport struct {
	dev *Device

	out    bytes.Buffer
	reqBuf bytes.Buffer

	pending *pendingProgram
}

// pendingProgram tracks an in-flight <program> op waiting for its raw
// data phase, mirroring the real device's rawmode="true" handshake.
type pendingProgram struct {
	lun       int
	offset    int64
	remaining int64
}

// NewTransport returns a Transport answering requests against dev.
func NewTransport(dev *Device) *Transport {
	return &Transport{dev: dev}
}

func (t *Transport) Read(p []byte) (int, error) { return t.out.Read(p) }

func (t *Transport) Write(p []byte) (int, error) {
	if t.pending != nil {
		l := t.dev.lunAt(t.pending.lun)
		n, _ := l.WriteAt(p, t.pending.offset)
		t.pending.offset += int64(n)
		t.pending.remaining -= int64(n)
		if t.pending.remaining <= 0 {
			t.pending = nil
			t.enqueueACK(nil)
		}
		return len(p), nil
	}

	t.reqBuf.Write(p)
	t.drainRequests()
	return len(p), nil
}

func (t *Transport) Flush() error { return nil }

func (t *Transport) FillBuf() ([]byte, error) { return t.out.Bytes(), nil }

func (t *Transport) Consume(n int) { t.out.Next(n) }

func (t *Transport) Backend() string { return "fake" }

func (t *Transport) Close() error { return nil }

// drainRequests repeatedly extracts complete `<data>...</data>` documents
// from reqBuf and dispatches each one, the same terminator-scan framing
// firehose.Engine uses on the client side.
func (t *Transport) drainRequests() {
	for {
		buf := t.reqBuf.Bytes()
		idx := bytes.Index(buf, []byte("</data>"))
		if idx < 0 {
			return
		}
		end := idx + len("</data>")
		doc := make([]byte, end)
		copy(doc, buf[:end])
		rest := make([]byte, len(buf)-end)
		copy(rest, buf[end:])
		t.reqBuf.Reset()
		t.reqBuf.Write(rest)

		tag, attrs := parseRequest(doc)
		t.dispatch(tag, attrs)

		if t.pending != nil {
			return
		}
	}
}

// parseRequest decodes the single child element of a `<data>` document
// into its tag name and attribute map.
func parseRequest(doc []byte) (string, map[string]string) {
	dec := xml.NewDecoder(bytes.NewReader(doc))
	for {
		tok, err := dec.Token()
		if err != nil {
			return "", nil
		}
		start, ok := tok.(xml.StartElement)
		if !ok || start.Name.Local == "data" {
			continue
		}
		attrs := make(map[string]string, len(start.Attr))
		for _, a := range start.Attr {
			attrs[a.Name.Local] = a.Value
		}
		return start.Name.Local, attrs
	}
}

func (t *Transport) dispatch(tag string, attrs map[string]string) {
	switch tag {
	case "configure":
		t.enqueueACK(map[string]string{
			"Version":                       "2",
			"MinVersionSupported":           "1",
			"MaxPayloadSizeToTargetInBytes": attrs["SendBufferSize"],
			"MaxXMLSizeInBytes":             "4096",
		})
	case "nop":
		t.enqueueACK(nil)
	case "getstorageinfo":
		t.enqueueACK(map[string]string{
			"total_blocks":    strconv.FormatInt(t.dev.lunSize/int64(t.dev.sectorSize), 10),
			"block_size":      strconv.Itoa(t.dev.sectorSize),
			"page_size":       strconv.Itoa(t.dev.sectorSize),
			"num_physical":    "1",
			"serial_num":      strconv.FormatInt(t.dev.serial, 10),
			"mem_type":        t.dev.storageType,
			"prod_name":       "fakedevice",
			"fw_version":      "1.0",
			"manufacturer_id": "1",
		})
	case "program":
		lunN := attrInt(attrs, "physical_partition_number")
		sectorSize := attrInt(attrs, "SECTOR_SIZE_IN_BYTES")
		startSector := attrInt64(attrs, "start_sector")
		numSectors := attrInt64(attrs, "num_partition_sectors")
		t.pending = &pendingProgram{
			lun:       lunN,
			offset:    startSector * int64(sectorSize),
			remaining: numSectors * int64(sectorSize),
		}
		t.enqueueACK(map[string]string{"rawmode": "true"})
	case "read":
		lunN := attrInt(attrs, "physical_partition_number")
		sectorSize := attrInt(attrs, "SECTOR_SIZE_IN_BYTES")
		startSector := attrInt64(attrs, "start_sector")
		numSectors := attrInt64(attrs, "num_partition_sectors")

		t.enqueueACK(map[string]string{"rawmode": "true"})
		data := make([]byte, numSectors*int64(sectorSize))
		t.dev.lunAt(lunN).ReadAt(data, startSector*int64(sectorSize))
		t.out.Write(data)
		t.enqueueACK(nil)
	case "erase":
		lunN := attrInt(attrs, "physical_partition_number")
		sectorSize := attrInt(attrs, "SECTOR_SIZE_IN_BYTES")
		startSector := attrInt64(attrs, "start_sector")
		numSectors := attrInt64(attrs, "num_partition_sectors")
		zeros := make([]byte, numSectors*int64(sectorSize))
		t.dev.lunAt(lunN).WriteAt(zeros, startSector*int64(sectorSize))
		t.enqueueACK(nil)
	case "patch":
		t.enqueueACK(nil)
	case "setbootablestoragedrive":
		t.dev.mu.Lock()
		t.dev.activeSlot = attrs["value"]
		t.dev.mu.Unlock()
		t.enqueueACK(nil)
	case "power", "peek", "poke", "getsha256digest":
		t.enqueueACK(nil)
	default:
		t.enqueueNAK(fmt.Sprintf("unknown tag %q", tag))
	}
}

func (t *Transport) enqueueACK(attrs map[string]string) {
	t.enqueueResponse("ACK", attrs)
}

func (t *Transport) enqueueNAK(reason string) {
	t.enqueueResponse("NAK", map[string]string{"text": reason})
}

func (t *Transport) enqueueResponse(value string, attrs map[string]string) {
	var buf bytes.Buffer
	buf.WriteString(`<?xml version="1.0" encoding="UTF-8" ?><data><response value="`)
	buf.WriteString(value)
	buf.WriteString(`"`)
	for k, v := range attrs {
		if v == "" {
			continue
		}
		fmt.Fprintf(&buf, ` %s="%s"`, k, v)
	}
	buf.WriteString(`/></data>`)
	t.out.Write(buf.Bytes())
}

func attrInt(attrs map[string]string, key string) int {
	v, _ := strconv.Atoi(attrs[key])
	return v
}

func attrInt64(attrs map[string]string, key string) int64 {
	v, _ := strconv.ParseInt(attrs[key], 10, 64)
	return v
}
