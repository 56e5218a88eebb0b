package gateway

import "context"

// YN is the literal "Y"/"N" flag encoding the gateway expects.
type YN string

const (
	Yes YN = "Y"
	No  YN = "N"
)

func yn(b bool) YN {
	if b {
		return Yes
	}
	return No
}

// StatusFlags are the admission progress flags attached to every message.
type StatusFlags struct {
	BayarPendaftaran bool `json:"bayarPendaftaran"`
	Biodata          bool `json:"biodata"`
	UploadBerkas     bool `json:"uploadBerkas"`
	Validasi         bool `json:"validasi"`
	DaftarUlang      bool `json:"daftarUlang"`
}

// Payload is the JSON body of one send.
type Payload struct {
	Number               string `json:"number"`
	Nama                 string `json:"nama"`
	Pilihan1             string `json:"pilihan1"`
	Pilihan2             string `json:"pilihan2"`
	Pilihan3             string `json:"pilihan3"`
	ProgramStudiDilulusi string `json:"programStudiDilulusi"`
	BayarPendaftaran     YN     `json:"bayarPendaftaran"`
	Biodata              YN     `json:"biodata"`
	UploadBerkas         YN     `json:"uploadBerkas"`
	Validasi             YN     `json:"validasi"`
	DaftarUlang          YN     `json:"daftarUlang"`
}

// PayloadFromRecord builds a payload from a canonical record keyed by target
// field names.
func PayloadFromRecord(rec map[string]string, flags StatusFlags) Payload {
	return Payload{
		Number:               rec["number"],
		Nama:                 rec["nama"],
		Pilihan1:             rec["pilihan1"],
		Pilihan2:             rec["pilihan2"],
		Pilihan3:             rec["pilihan3"],
		ProgramStudiDilulusi: rec["prodi_lulus"],
		BayarPendaftaran:     yn(flags.BayarPendaftaran),
		Biodata:              yn(flags.Biodata),
		UploadBerkas:         yn(flags.UploadBerkas),
		Validasi:             yn(flags.Validasi),
		DaftarUlang:          yn(flags.DaftarUlang),
	}
}

// RecordSender sends canonical records through a Client with fixed flags.
type RecordSender struct {
	client *Client
	flags  StatusFlags
}

func NewRecordSender(c *Client, flags StatusFlags) *RecordSender {
	return &RecordSender{client: c, flags: flags}
}

func (s *RecordSender) Send(ctx context.Context, rec map[string]string) error {
	_, err := s.client.Send(ctx, PayloadFromRecord(rec, s.flags))
	return err
}
