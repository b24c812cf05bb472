package mobi

import (
	"bytes"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/htol/gomobi/exth"
	"github.com/htol/gomobi/index"
	"github.com/htol/gomobi/kf8"
	"github.com/htol/gomobi/mheader"
	"github.com/htol/gomobi/mobierr"
	"github.com/htol/gomobi/mobilog"
	"github.com/htol/gomobi/pdb"
	"github.com/htol/gomobi/resource"
)

// Read parses a complete MOBI container image.
func Read(data []byte, log *zap.Logger) (*Mobi, error) {
	log = mobilog.Or(log)

	db, err := pdb.Read(data, log)
	if err != nil {
		return nil, err
	}
	if len(db.Records) == 0 {
		return nil, mobierr.Malformedf("mobi.Read", "palmdb container has no records")
	}

	h0, err := mheader.Decode(db.Records[0].Data, "record[0]", log)
	if err != nil {
		return nil, err
	}

	m := &Mobi{}
	var visibleExth []exth.Record
	visibleFullName := h0.FullName

	if h0.Version >= mheader.VersionKF8Min {
		unit, err := readUnit(db, 0, h0, log)
		if err != nil {
			return nil, err
		}
		m.KF8 = unit
		visibleExth = h0.Exth
	} else {
		unit, err := readUnit(db, 0, h0, log)
		if err != nil {
			return nil, err
		}
		m.MOBI6 = unit
		visibleExth = h0.Exth

		if boundary, ok := exth.FirstUint32(h0.Exth, exth.TagKF8Boundary); ok {
			if int(boundary) >= len(db.Records) {
				return nil, mobierr.Malformedf("mobi.Read", "KF8 boundary %d out of range (%d records)", boundary, len(db.Records))
			}
			kf8Header, err := mheader.Decode(db.Records[boundary].Data, fmt.Sprintf("record[%d] (kf8)", boundary), log)
			if err != nil {
				return nil, err
			}
			kf8Unit, err := readUnit(db, int(boundary), kf8Header, log)
			if err != nil {
				return nil, err
			}
			m.KF8 = kf8Unit
			visibleExth = kf8Header.Exth
			visibleFullName = kf8Header.FullName
		}
	}

	if err := readResources(m, db, h0); err != nil {
		return nil, err
	}
	m.Title = visibleFullName
	populateMetadata(m, visibleExth)

	log.Debug("decoded mobi container",
		zap.Bool("has_mobi6", m.MOBI6 != nil),
		zap.Bool("has_kf8", m.KF8 != nil),
		zap.Int("resources", len(m.Resources)))
	return m, nil
}

func readUnit(db *pdb.Database, boundary int, h *mheader.Header, log *zap.Logger) (*Unit, error) {
	textStart := boundary + 1
	textEnd := textStart + int(h.TextRecordCount)
	if textEnd > len(db.Records) {
		return nil, mobierr.Malformedf("mobi.readUnit", "text range [%d,%d) exceeds %d records", textStart, textEnd, len(db.Records))
	}

	var rawParts [][]byte
	for i := textStart; i < textEnd; i++ {
		rawParts = append(rawParts, mheader.StripTrailingEntries(db.Records[i].Data, h.ExtraFlags))
	}
	text := bytes.Join(rawParts, nil)

	var flow [][]byte
	if h.FdstIndex.Valid() {
		fdstRecIdx := boundary + int(h.FdstIndex)
		if fdstRecIdx >= len(db.Records) {
			return nil, mobierr.Malformedf("mobi.readUnit", "fdst index %d out of range", fdstRecIdx)
		}
		fdst, err := mheader.DecodeFDST(db.Records[fdstRecIdx].Data, fmt.Sprintf("record[%d] (fdst)", fdstRecIdx))
		if err != nil {
			return nil, err
		}
		flow = mheader.SplitFlow(text, fdst, true)
	} else {
		flow = mheader.SplitFlow(text, nil, false)
	}

	var parts [][]byte
	if h.SkelIndex.Valid() && len(flow) > 0 {
		skel, frag, err := readSkelFrag(db, boundary, h)
		if err != nil {
			return nil, err
		}
		parts, err = kf8.ReconstructParts(flow[0], skel, frag)
		if err != nil {
			return nil, err
		}
	} else if len(flow) > 0 {
		parts = [][]byte{flow[0]}
	}

	return &Unit{
		Compression:  h.Compression,
		Encryption:   h.Encryption,
		MobiType:     h.MobiType,
		TextEncoding: h.TextEncoding,
		Version:      h.Version,
		Flow:         flow,
		Parts:        parts,
	}, nil
}

func readSkelFrag(db *pdb.Database, boundary int, h *mheader.Header) (skel, frag []index.Entry, err error) {
	skelStart := boundary + int(h.SkelIndex)
	if skelStart >= len(db.Records) {
		return nil, nil, mobierr.Malformedf("mobi.readSkelFrag", "skel index %d out of range", skelStart)
	}
	skelRecords, err := recordSlice(db, skelStart, "SKEL")
	if err != nil {
		return nil, nil, err
	}
	skelIdx, err := index.Decode("SKEL", skelRecords, "skel")
	if err != nil {
		return nil, nil, err
	}
	skel = skelIdx.Entries

	if h.FragIndex.Valid() {
		fragStart := boundary + int(h.FragIndex)
		if fragStart >= len(db.Records) {
			return nil, nil, mobierr.Malformedf("mobi.readSkelFrag", "frag index %d out of range", fragStart)
		}
		fragRecords, err := recordSlice(db, fragStart, "FRAG")
		if err != nil {
			return nil, nil, err
		}
		fragIdx, err := index.Decode("FRAG", fragRecords, "frag")
		if err != nil {
			return nil, nil, err
		}
		frag = fragIdx.Entries
	}

	return skel, frag, nil
}

func recordSlice(db *pdb.Database, headIdx int, name string) ([][]byte, error) {
	count, err := index.HeadDataRecordCount(db.Records[headIdx].Data, name+"-head")
	if err != nil {
		return nil, err
	}
	end := headIdx + 1 + count
	if end > len(db.Records) {
		return nil, mobierr.Malformedf("mobi.recordSlice", "%s index needs %d records starting at %d, only %d available", name, 1+count, headIdx, len(db.Records)-headIdx)
	}
	out := make([][]byte, 0, 1+count)
	for i := headIdx; i < end; i++ {
		out = append(out, db.Records[i].Data)
	}
	return out, nil
}

func readResources(m *Mobi, db *pdb.Database, h0 *mheader.Header) error {
	// h0 is always record[0]'s own header: MOBI6's when a MOBI6 unit is
	// present (hybrid or MOBI6-only), KF8's otherwise (KF8-only). Its
	// image_index is always record-0-relative, matching how Write lays
	// the resource block out in both cases.
	if !h0.ImageIndex.Valid() {
		return nil
	}
	start := int(h0.ImageIndex)
	if start < 0 || start >= len(db.Records) {
		return nil
	}

	recs := make([][]byte, 0, len(db.Records)-start)
	for i := start; i < len(db.Records); i++ {
		recs = append(recs, db.Records[i].Data)
	}
	resources, err := resource.DecodeAll(recs, "resources")
	if err != nil {
		return err
	}
	m.Resources = resources
	return nil
}

// populateMetadata fills everything but Title, which comes from record-0's
// full_name string (see Read) rather than any EXTH tag.
func populateMetadata(m *Mobi, records []exth.Record) {
	m.Author, _ = exth.First(records, exth.TagAuthor)
	m.Publisher, _ = exth.First(records, exth.TagPublisher)
	m.Description, _ = exth.First(records, exth.TagDescription)
	m.Subjects = exth.All(records, exth.TagSubject)
	m.Copyright, _ = exth.First(records, exth.TagRights)

	if dateStr, ok := exth.First(records, exth.TagPublishedDate); ok {
		m.PublishingDate = parseFuzzyDate(dateStr)
	}
}

// parseFuzzyDate applies the best-effort fallback chain: a strict ISO-8601
// parse, then a bare year, then the current time if neither works.
func parseFuzzyDate(s string) time.Time {
	layouts := []string{time.RFC3339, "2006-01-02", "2006-01", "2006"}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	if year, err := strconv.Atoi(s); err == nil && year > 0 {
		return time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
	}
	return time.Now()
}
