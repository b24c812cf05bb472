package mobi

import (
	"bytes"
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

// Write assembles m into a complete PalmDB/MOBI container image.
func Write(m *Mobi, log *zap.Logger) ([]byte, error) {
	log = mobilog.Or(log)

	if m.MOBI6 == nil && m.KF8 == nil {
		return nil, mobierr.Malformedf("mobi.Write", "at least one of MOBI6 or KF8 must be populated")
	}

	db := pdb.New(defaultName(m))
	exthRecords := buildExthRecords(m)

	var err error
	switch {
	case m.MOBI6 != nil && m.KF8 != nil:
		err = writeHybrid(db, m, exthRecords, log)
	case m.MOBI6 != nil:
		err = writeSingleUnit(db, m.MOBI6, m.Resources, exthRecords, m.Title, log)
	default:
		err = writeSingleUnit(db, m.KF8, m.Resources, exthRecords, m.Title, log)
	}
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := db.Write(&buf, log); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeSingleUnit(db *pdb.Database, unit *Unit, resources []resource.Resource, exthRecords []exth.Record, title string, log *zap.Logger) error {
	isKF8 := unit.Version >= mheader.VersionKF8Min

	var flow0 []byte
	var skel []index.Entry
	if isKF8 {
		flow0, skel = buildKF8Flow(unit)
	} else {
		flow0 = buildMOBI6Flow0(unit)
	}

	allFlows := append([][]byte{flow0}, auxFlows(unit)...)
	text := bytes.Join(allFlows, nil)

	headerIdx := db.AddRecord(nil, 0, 0)
	db.AddRecord(text, 0, 0)

	h := mheader.NewHeader()
	h.MobiType = unit.MobiType
	h.Version = unit.Version
	h.TextLength = uint32(len(text))
	h.TextRecordCount = 1
	h.TextRecordSize = clampUint16(len(text))
	h.Exth = exthRecords
	h.FullName = title

	if len(allFlows) > 1 {
		fdst := mheader.BuildFDST(allFlows)
		fdstIdx := db.AddRecord(fdst.Encode(), 0, 0)
		h.FdstIndex = mheader.Index(fdstIdx - headerIdx)
		h.FdstSectionCount = uint32(len(allFlows))
	}

	if isKF8 {
		skelRecords, err := index.Encode("SKEL", 0, skel)
		if err != nil {
			return err
		}
		skelHeadIdx := db.AddRecord(skelRecords[0], 0, 0)
		db.AddRecord(skelRecords[1], 0, 0)
		h.SkelIndex = mheader.Index(skelHeadIdx - headerIdx)

		fcisIdx := db.AddRecord(mheader.EncodeFCIS(uint32(len(text))), 0, 0)
		h.FCISIndex = mheader.Index(fcisIdx - headerIdx)
		flisIdx := db.AddRecord(mheader.EncodeFLIS(), 0, 0)
		h.FLISIndex = mheader.Index(flisIdx - headerIdx)
		db.AddRecord(append([]byte(nil), resource.EOFMagic...), 0, 0)
	}

	resourceStart := len(db.Records)
	for _, rec := range resource.EncodeAll(resources) {
		db.AddRecord(rec, 0, 0)
	}
	h.ImageIndex = mheader.Index(resourceStart - headerIdx)

	db.Records[headerIdx].Data = mheader.Encode(h, log)
	return nil
}

// writeHybrid emits the MOBI6 unit, the resource block, then the KF8 unit,
// per §4.10's literal ordering, writing the KF8 boundary into MOBI6's EXTH
// only after the KF8 header's own record index is known.
func writeHybrid(db *pdb.Database, m *Mobi, exthRecords []exth.Record, log *zap.Logger) error {
	mobi6HeaderIdx := db.AddRecord(nil, 0, 0)

	flow0 := buildMOBI6Flow0(m.MOBI6)
	allFlows := append([][]byte{flow0}, auxFlows(m.MOBI6)...)
	text := bytes.Join(allFlows, nil)
	db.AddRecord(text, 0, 0)

	h6 := mheader.NewHeader()
	h6.MobiType = m.MOBI6.MobiType
	h6.Version = mheader.VersionMOBI6
	h6.TextLength = uint32(len(text))
	h6.TextRecordCount = 1
	h6.TextRecordSize = clampUint16(len(text))
	h6.FullName = m.Title

	if len(allFlows) > 1 {
		fdst := mheader.BuildFDST(allFlows)
		fdstIdx := db.AddRecord(fdst.Encode(), 0, 0)
		h6.FdstIndex = mheader.Index(fdstIdx - mobi6HeaderIdx)
		h6.FdstSectionCount = uint32(len(allFlows))
	}

	resourceStart := len(db.Records)
	for _, rec := range resource.EncodeAll(m.Resources) {
		db.AddRecord(rec, 0, 0)
	}
	h6.ImageIndex = mheader.Index(resourceStart - mobi6HeaderIdx)

	kf8Boundary := len(db.Records)
	kf8HeaderIdx := db.AddRecord(nil, 0, 0)

	flow0k, skel := buildKF8Flow(m.KF8)
	allFlowsK := append([][]byte{flow0k}, auxFlows(m.KF8)...)
	textK := bytes.Join(allFlowsK, nil)
	db.AddRecord(textK, 0, 0)

	hk := mheader.NewHeader()
	hk.MobiType = m.KF8.MobiType
	hk.Version = m.KF8.Version
	if hk.Version < mheader.VersionKF8Min {
		hk.Version = mheader.VersionKF8Min
	}
	hk.TextLength = uint32(len(textK))
	hk.TextRecordCount = 1
	hk.TextRecordSize = clampUint16(len(textK))
	hk.Exth = exthRecords
	hk.FullName = m.Title

	fdstIdxK := db.AddRecord(mheader.BuildFDST(allFlowsK).Encode(), 0, 0)
	hk.FdstIndex = mheader.Index(fdstIdxK - kf8Boundary)
	hk.FdstSectionCount = uint32(len(allFlowsK))

	skelRecords, err := index.Encode("SKEL", 0, skel)
	if err != nil {
		return err
	}
	skelHeadIdx := db.AddRecord(skelRecords[0], 0, 0)
	db.AddRecord(skelRecords[1], 0, 0)
	hk.SkelIndex = mheader.Index(skelHeadIdx - kf8Boundary)

	fcisIdx := db.AddRecord(mheader.EncodeFCIS(uint32(len(textK))), 0, 0)
	hk.FCISIndex = mheader.Index(fcisIdx - kf8Boundary)
	flisIdx := db.AddRecord(mheader.EncodeFLIS(), 0, 0)
	hk.FLISIndex = mheader.Index(flisIdx - kf8Boundary)
	db.AddRecord(append([]byte(nil), resource.EOFMagic...), 0, 0)

	db.Records[kf8HeaderIdx].Data = mheader.Encode(hk, log)

	h6.Exth = []exth.Record{exth.Uint32Record(exth.TagKF8Boundary, uint32(kf8Boundary))}
	db.Records[mobi6HeaderIdx].Data = mheader.Encode(h6, log)

	return nil
}

func buildKF8Flow(unit *Unit) ([]byte, []index.Entry) {
	if len(unit.Parts) > 0 {
		return kf8.BuildSkelFrag(unit.Parts)
	}
	if len(unit.Flow) > 0 {
		return unit.Flow[0], nil
	}
	return nil, nil
}

func buildMOBI6Flow0(unit *Unit) []byte {
	if len(unit.Flow) > 0 {
		return unit.Flow[0]
	}
	return bytes.Join(unit.Parts, []byte("\n"))
}

func auxFlows(unit *Unit) [][]byte {
	if len(unit.Flow) > 1 {
		return unit.Flow[1:]
	}
	return nil
}

func clampUint16(n int) uint16 {
	if n > 0xFFFF {
		return 0xFFFF
	}
	return uint16(n)
}

func defaultName(m *Mobi) string {
	if m.Title != "" {
		return m.Title
	}
	return "mobi"
}

// buildExthRecords covers every metadata field except Title, which is
// carried in record-0's full_name rather than an EXTH tag.
func buildExthRecords(m *Mobi) []exth.Record {
	var records []exth.Record
	if m.Author != "" {
		records = append(records, exth.StringRecord(exth.TagAuthor, m.Author))
	}
	if m.Publisher != "" {
		records = append(records, exth.StringRecord(exth.TagPublisher, m.Publisher))
	}
	if m.Description != "" {
		records = append(records, exth.StringRecord(exth.TagDescription, m.Description))
	}
	for _, s := range m.Subjects {
		records = append(records, exth.StringRecord(exth.TagSubject, s))
	}
	if !m.PublishingDate.IsZero() {
		records = append(records, exth.StringRecord(exth.TagPublishedDate, m.PublishingDate.Format(time.RFC3339)))
	}
	if m.Copyright != "" {
		records = append(records, exth.StringRecord(exth.TagRights, m.Copyright))
	}
	return records
}
