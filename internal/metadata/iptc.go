package metadata

import (
	"bytes"
	"encoding/binary"
	"strings"
)

const iptcResourceID = 0x0404

var iptcDatasets = map[byte]string{
	5:   "ObjectName",
	15:  "Category",
	25:  "Keywords",
	40:  "SpecialInstructions",
	55:  "DateCreated",
	60:  "TimeCreated",
	80:  "Byline",
	90:  "City",
	95:  "Province/State",
	101: "Country/PrimaryLocationName",
	105: "Headline",
	110: "Credit",
	115: "Source",
	116: "CopyrightNotice",
	120: "Caption/Abstract",
	122: "Writer/Editor",
}

// repeatable datasets are collected into a list
var iptcRepeatable = map[string]bool{"Keywords": true}

// parseIPTC reads the IPTC-NAA resource from a Photoshop APP13 payload.
func parseIPTC(payload []byte) PropertyBag {
	block := photoshopResource(bytes.TrimPrefix(payload, jpegPhotoshop), iptcResourceID)
	if block == nil {
		return nil
	}

	bag := PropertyBag{}
	pos := 0
	for pos+5 <= len(block) {
		if block[pos] != 0x1c {
			break
		}
		record, dataset := block[pos+1], block[pos+2]
		size := int(binary.BigEndian.Uint16(block[pos+3 : pos+5]))
		pos += 5
		if size&0x8000 != 0 || pos+size > len(block) {
			// extended datasets are not used by application records
			break
		}
		value := strings.TrimRight(string(block[pos:pos+size]), "\x00")
		pos += size

		if record != 2 {
			continue
		}
		name, ok := iptcDatasets[dataset]
		if !ok {
			continue
		}
		if iptcRepeatable[name] {
			list, _ := bag[name].([]string)
			bag[name] = append(list, value)
			continue
		}
		bag[name] = value
	}
	return bag
}

// photoshopResource walks 8BIM image resource blocks and returns the data of id.
func photoshopResource(data []byte, id uint16) []byte {
	pos := 0
	for pos+12 <= len(data) {
		if string(data[pos:pos+4]) != "8BIM" {
			return nil
		}
		resID := binary.BigEndian.Uint16(data[pos+4 : pos+6])
		pos += 6

		// pascal string name, padded to even length
		nameLen := int(data[pos])
		pos += 1 + nameLen
		if (nameLen+1)%2 != 0 {
			pos++
		}
		if pos+4 > len(data) {
			return nil
		}
		size := int(binary.BigEndian.Uint32(data[pos : pos+4]))
		pos += 4
		if size < 0 || pos+size > len(data) {
			return nil
		}
		if resID == id {
			return data[pos : pos+size]
		}
		pos += size
		if size%2 != 0 {
			pos++
		}
	}
	return nil
}
