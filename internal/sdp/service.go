package sdp

import "sort"

// Attribute IDs (Bluetooth Core spec, Vol 3 Part B §5.1).
const (
	AttrServiceRecordHandle          uint16 = 0x0000
	AttrServiceClassIDList           uint16 = 0x0001
	AttrServiceRecordState           uint16 = 0x0002
	AttrServiceID                    uint16 = 0x0003
	AttrProtocolDescriptorList       uint16 = 0x0004
	AttrBrowseGroupList              uint16 = 0x0005
	AttrLanguageBaseIDList           uint16 = 0x0006
	AttrServiceInfoTimeToLive        uint16 = 0x0007
	AttrServiceAvailability          uint16 = 0x0008
	AttrBluetoothProfileDescriptorList uint16 = 0x0009
)

// Protocol and service-class UUIDs used by the in-scope records.
var (
	ProtoSDP   = UUID16(0x0001)
	ProtoL2CAP = UUID16(0x0100)
	ProtoAVDTP = UUID16(0x0019)
	ProtoAVCTP = UUID16(0x0017)

	ClassAudioSink               = UUID16(0x110B)
	ClassAVRemoteControlTarget   = UUID16(0x110C)
	ClassAdvancedAudioDistribution = UUID16(0x110D)
	ClassAVRemoteControl         = UUID16(0x110E)

	PublicBrowseRoot = UUID16(0x1002)
)

// AVDTPPSM and AVCTPPSM are the L2CAP protocol/service multiplexer values
// the in-scope profiles register.
const (
	AVDTPPSM uint16 = 0x0019
	AVCTPPSM uint16 = 0x0017
)

// Attribute is one (id, value) pair of a ServiceRecord.
type Attribute struct {
	ID    uint16
	Value Element
}

// Record is a sorted list of attributes, matching the spec's data model:
// a ServiceRecordHandle (Uint32) and ServiceClassIDList (Sequence of Uuid)
// are required.
type Record struct {
	attrs []Attribute
}

// NewRecord builds a Record from unordered attributes, sorting by id and
// validating the two required attributes are present.
func NewRecord(attrs ...Attribute) (Record, error) {
	sorted := append([]Attribute(nil), attrs...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	r := Record{attrs: sorted}
	if _, ok := r.Get(AttrServiceRecordHandle); !ok {
		return Record{}, errMissingAttr("ServiceRecordHandle")
	}
	if v, ok := r.Get(AttrServiceClassIDList); !ok || v.Kind != KindSequence {
		return Record{}, errMissingAttr("ServiceClassIDList")
	}
	return r, nil
}

func errMissingAttr(name string) error {
	return &missingAttrError{name}
}

type missingAttrError struct{ name string }

func (e *missingAttrError) Error() string {
	return "sdp: service record missing required attribute " + e.name
}

// Get returns the value for an attribute id.
func (r Record) Get(id uint16) (Element, bool) {
	for _, a := range r.attrs {
		if a.ID == id {
			return a.Value, true
		}
	}
	return Element{}, false
}

// Attributes returns the sorted attribute list.
func (r Record) Attributes() []Attribute { return r.attrs }

func protocolDescriptor(psm UUID, params ...Element) Element {
	return SequenceV(append([]Element{UUIDV(psm)}, params...)...)
}

// AudioSinkRecord builds the SBC A2DP Sink service record: service-class
// AudioSink (0x110B), protocol descriptor list [(L2CAP, AVDTP-PSM=0x0019),
// (AVDTP, 0x0103)], profile descriptor [(AdvancedAudioDistribution=0x110D,
// 0x0103)].
func AudioSinkRecord(handle uint32) (Record, error) {
	const avdtpVersion = 0x0103

	return NewRecord(
		Attribute{AttrServiceRecordHandle, Uint32V(handle)},
		Attribute{AttrBrowseGroupList, SequenceV(UUIDV(PublicBrowseRoot))},
		Attribute{AttrServiceClassIDList, SequenceV(UUIDV(ClassAudioSink))},
		Attribute{AttrProtocolDescriptorList, SequenceV(
			protocolDescriptor(ProtoL2CAP, Uint16V(AVDTPPSM)),
			protocolDescriptor(ProtoAVDTP, Uint16V(avdtpVersion)),
		)},
		Attribute{AttrBluetoothProfileDescriptorList, SequenceV(
			SequenceV(UUIDV(ClassAdvancedAudioDistribution), Uint16V(avdtpVersion)),
		)},
	)
}

// AVRCPControllerRecord builds the AVRCP controller-target service record
// advertised alongside the audio sink so the phone can reach this device's
// AV/C transaction multiplexer.
func AVRCPControllerRecord(handle uint32) (Record, error) {
	const avrcpVersion = 0x0106

	return NewRecord(
		Attribute{AttrServiceRecordHandle, Uint32V(handle)},
		Attribute{AttrBrowseGroupList, SequenceV(UUIDV(PublicBrowseRoot))},
		Attribute{AttrServiceClassIDList, SequenceV(UUIDV(ClassAVRemoteControlTarget))},
		Attribute{AttrProtocolDescriptorList, SequenceV(
			protocolDescriptor(ProtoL2CAP, Uint16V(AVCTPPSM)),
			protocolDescriptor(ProtoAVCTP, Uint16V(avrcpVersion)),
		)},
		Attribute{AttrBluetoothProfileDescriptorList, SequenceV(
			SequenceV(UUIDV(ClassAVRemoteControl), Uint16V(avrcpVersion)),
		)},
	)
}
