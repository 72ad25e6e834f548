package firehose

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"strconv"
)

const xmlProlog = `<?xml version="1.0" encoding="UTF-8" ?>`

// flag renders a Firehose boolean attribute as "1"/"0", the convention
// the on-device programmer uses, rather than Go's default "true"/"false".
type flag bool

func (f flag) MarshalXMLAttr(name xml.Name) (xml.Attr, error) {
	v := "0"
	if f {
		v = "1"
	}
	return xml.Attr{Name: name, Value: v}, nil
}

func (f *flag) UnmarshalXMLAttr(attr xml.Attr) error {
	*f = attr.Value == "1" || attr.Value == "true"
	return nil
}

type configureXML struct {
	XMLName                   xml.Name `xml:"configure"`
	MemoryName                string   `xml:"MemoryName,attr"`
	Verbose                   int      `xml:"Verbose,attr"`
	AlwaysValidate            flag     `xml:"AlwaysValidate,attr"`
	MaxDigestTableSizeInBytes int      `xml:"MaxDigestTableSizeInBytes,attr"`
	ZLPAwareHost              flag     `xml:"ZLPAwareHost,attr"`
	SkipStorageInit           flag     `xml:"SkipStorageInit,attr"`
	SendBufferSize            int      `xml:"SendBufferSize,attr"`
}

type nopXML struct {
	XMLName xml.Name `xml:"nop"`
}

type programXML struct {
	XMLName                 xml.Name `xml:"program"`
	PhysicalPartitionNumber int      `xml:"physical_partition_number,attr"`
	StartSector             string   `xml:"start_sector,attr"`
	NumPartitionSectors     int64    `xml:"num_partition_sectors,attr"`
	SectorSizeInBytes       int      `xml:"SECTOR_SIZE_IN_BYTES,attr"`
	FileSectorOffset        int64    `xml:"file_sector_offset,attr"`
	Filename                string   `xml:"filename,attr"`
	Label                   string   `xml:"label,attr,omitempty"`
}

type readXML struct {
	XMLName                 xml.Name `xml:"read"`
	PhysicalPartitionNumber int      `xml:"physical_partition_number,attr"`
	StartSector             string   `xml:"start_sector,attr"`
	NumPartitionSectors     int64    `xml:"num_partition_sectors,attr"`
	SectorSizeInBytes       int      `xml:"SECTOR_SIZE_IN_BYTES,attr"`
	Filename                string   `xml:"filename,attr"`
}

type eraseXML struct {
	XMLName                 xml.Name `xml:"erase"`
	PhysicalPartitionNumber int      `xml:"physical_partition_number,attr"`
	StartSector             string   `xml:"start_sector,attr"`
	NumPartitionSectors     int64    `xml:"num_partition_sectors,attr"`
	SectorSizeInBytes       int      `xml:"SECTOR_SIZE_IN_BYTES,attr"`
}

type patchXML struct {
	XMLName                 xml.Name `xml:"patch"`
	PhysicalPartitionNumber int      `xml:"physical_partition_number,attr"`
	Filename                string   `xml:"filename,attr"`
	SectorSizeInBytes       int      `xml:"SECTOR_SIZE_IN_BYTES,attr"`
	ByteOffset              int64    `xml:"byte_offset,attr"`
	SizeInBytes             int      `xml:"size_in_bytes,attr"`
	StartSector             string   `xml:"start_sector,attr"`
	What                    string   `xml:"what,attr"`
	Value                   string   `xml:"value,attr"`
}

type getStorageInfoXML struct {
	XMLName                 xml.Name `xml:"getstorageinfo"`
	PhysicalPartitionNumber int      `xml:"physical_partition_number,attr"`
}

type peekXML struct {
	XMLName         xml.Name `xml:"peek"`
	AddressInBytes  string   `xml:"address64,attr"`
	SizeInBytes     int      `xml:"SizeInBytes,attr"`
}

type pokeXML struct {
	XMLName        xml.Name `xml:"poke"`
	AddressInBytes string   `xml:"address64,attr"`
	SizeInBytes    int      `xml:"SizeInBytes,attr"`
	Value          string   `xml:"value,attr"`
}

type getSha256DigestXML struct {
	XMLName                 xml.Name `xml:"getsha256digest"`
	PhysicalPartitionNumber int      `xml:"physical_partition_number,attr"`
	StartSector             string   `xml:"start_sector,attr"`
	NumPartitionSectors     int64    `xml:"num_partition_sectors,attr"`
}

type setBootableXML struct {
	XMLName                 xml.Name `xml:"setbootablestoragedrive"`
	Value                   int      `xml:"value,attr"`
}

type resetXML struct {
	XMLName xml.Name `xml:"power"`
	Value   string   `xml:"value,attr"`
}

// encodeOp marshals a single Firehose request element and wraps it in the
// `<?xml ... ?><data>...</data>` envelope the device expects on the wire.
// If the serialized document's length is a nonzero multiple of 512 bytes,
// a trailing "\n" is appended — a workaround some loaders require to
// avoid misreading a sector-aligned document as a truncated one.
func encodeOp(v interface{}) ([]byte, error) {
	body, err := xml.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("firehose: encode op: %w", err)
	}
	var buf bytes.Buffer
	buf.WriteString(xmlProlog)
	buf.WriteString("<data>")
	buf.Write(body)
	buf.WriteString("</data>")
	if n := buf.Len(); n != 0 && n%512 == 0 {
		buf.WriteString("\n")
	}
	return buf.Bytes(), nil
}

// ComposeProgramsDoc renders a package-level `<data>` document with one
// `<program>` child per tag, in order. This is the payload
// update_partition_table consumers receive after a GPT read, and the
// shape rawprogram documents are re-emitted in.
func ComposeProgramsDoc(tags []ProgramTag) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(xmlProlog)
	buf.WriteString("<data>")
	for _, t := range tags {
		body, err := xml.Marshal(programXML{
			PhysicalPartitionNumber: t.PhysicalPartitionNumber,
			StartSector:             t.StartSector,
			NumPartitionSectors:     t.NumPartitionSectors,
			SectorSizeInBytes:       t.SectorSizeInBytes,
			FileSectorOffset:        t.FileSectorOffset,
			Filename:                t.Filename,
			Label:                   t.Label,
		})
		if err != nil {
			return nil, fmt.Errorf("firehose: compose programs doc: %w", err)
		}
		buf.Write(body)
	}
	buf.WriteString("</data>")
	return buf.Bytes(), nil
}

// Element is one decoded child of a `<data>` response document: a <log>,
// <response>, or echoed request tag, with its attributes preserved
// verbatim so callers can read fields the device sends that this client
// doesn't otherwise model.
type Element struct {
	Tag   string
	Attrs map[string]string
}

// ParseResponseDoc walks a `<data>...</data>` document token by token,
// tolerating unknown child elements and attributes: devices from
// different firmware revisions add fields this client must not choke on.
func ParseResponseDoc(data []byte) ([]Element, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	var elements []Element
	depth := 0

	for {
		tok, err := dec.Token()
		if err != nil {
			break
		}
		switch t := tok.(type) {
		case xml.StartElement:
			depth++
			if t.Name.Local == "data" {
				continue
			}
			attrs := make(map[string]string, len(t.Attr))
			for _, a := range t.Attr {
				attrs[a.Name.Local] = a.Value
			}
			elements = append(elements, Element{Tag: t.Name.Local, Attrs: attrs})
		case xml.EndElement:
			depth--
		}
	}

	if len(elements) == 0 && depth < 0 {
		return nil, fmt.Errorf("firehose: malformed response document")
	}
	return elements, nil
}

// IsACK reports whether el is a <response value="ACK"> element.
func IsACK(el Element) bool { return el.Tag == "response" && el.Attrs["value"] == "ACK" }

// IsNAK reports whether el is a <response value="NAK"> element.
func IsNAK(el Element) bool { return el.Tag == "response" && el.Attrs["value"] == "NAK" }

// IsLog reports whether el is a <log> element.
func IsLog(el Element) bool { return el.Tag == "log" }

// RawMode reports the rawmode="true" attribute some ACKs carry to announce
// that raw binary data (not another XML document) follows on the wire.
func RawMode(el Element) bool { return el.Attrs["rawmode"] == "true" }

// AttrInt parses a decimal attribute, defaulting to 0 on absence or a
// malformed value; callers that must distinguish "absent" use Attrs
// directly.
func AttrInt(el Element, key string) int {
	v, err := strconv.Atoi(el.Attrs[key])
	if err != nil {
		return 0
	}
	return v
}

// AttrInt64 is the int64 variant of AttrInt, used for sector counts and
// byte offsets that can exceed 32 bits.
func AttrInt64(el Element, key string) int64 {
	v, err := strconv.ParseInt(el.Attrs[key], 10, 64)
	if err != nil {
		return 0
	}
	return v
}
