package catalog

// Default returns a fresh copy of the built-in catalog. Target order matters:
// the detector evaluates targets in this order and keeps the first best.
func Default() *Catalog {
	return &Catalog{
		Targets:  defaultTargets(),
		Expected: defaultExpected(),
	}
}

var (
	pilihan1Patterns = []string{
		"pilihan1", "pilihan_1", "pilihan 1", "prodi1", "prodi_1", "prodi 1",
		"program1", "program_1", "program 1", "first_choice", "choice1",
		"pil1", "pil_1", "jurusan1", "jurusan_1", "pilihan-1",
	}
	pilihan2Patterns = []string{
		"pilihan2", "pilihan_2", "pilihan 2", "prodi2", "prodi_2", "prodi 2",
		"program2", "program_2", "program 2", "second_choice", "choice2",
		"pil2", "pil_2", "jurusan2", "jurusan_2", "pilihan-2",
	}
	pilihan3Patterns = []string{
		"pilihan3", "pilihan_3", "pilihan 3", "prodi3", "prodi_3", "prodi 3",
		"program3", "program_3", "program 3", "third_choice", "choice3",
		"pil3", "pil_3", "jurusan3", "jurusan_3", "pilihan-3",
	}
	prodiLulusPatterns = []string{
		"prodi_lulus", "prodi lulus", "prodilulus", "graduation_program",
		"lulus_prodi", "lulus prodi", "lulusprodi", "program_lulus",
		"program lulus", "programlulus", "jurusan_lulus", "jurusan lulus",
		"prodi-lulus", "lulus-prodi", "program-lulus",
	}
	namaPatterns = []string{
		"nama", "name", "student_name", "nama_mahasiswa", "nama mahasiswa",
		"namamahasiswa", "full_name", "fullname", "student", "mahasiswa",
		"nama-mahasiswa", "student-name",
	}
	phonePatternNames = []string{
		"hp_mahasiswa", "hp mahasiswa", "hpmahasiswa", "phone", "telephone",
		"no_hp", "no hp", "nohp", "nomor_hp", "nomor hp", "nomorhp",
		"phone_number", "phonenumber", "mobile", "whatsapp", "wa",
		"contact", "kontak", "telepon", "hp", "handphone", "no_telepon",
		"no telepon", "notelepon", "hp-mahasiswa", "no-hp", "nomor-hp",
	}
)

func defaultTargets() []TargetField {
	return []TargetField{
		{Key: "pilihan1", Patterns: clone(pilihan1Patterns), Required: true},
		{Key: "pilihan2", Patterns: clone(pilihan2Patterns), Required: true},
		{Key: "pilihan3", Patterns: clone(pilihan3Patterns), Required: true},
		{Key: "prodi_lulus", Patterns: clone(prodiLulusPatterns)},
		{Key: "nama", Patterns: clone(namaPatterns), Required: true},
		{Key: "number", Patterns: clone(phonePatternNames), Validator: ValidatorPhone, Required: true},
	}
}

func defaultExpected() []ExpectedField {
	return []ExpectedField{
		{
			Key:         "nama",
			Patterns:    append(clone(namaPatterns), "namalengkap", "nama_lengkap"),
			Type:        TypeText,
			Required:    true,
			Description: "Student full name (required, should be unique)",
		},
		{
			Key:         "hp_mahasiswa",
			Patterns:    clone(phonePatternNames),
			Type:        TypePhone,
			Required:    true,
			Description: "Student phone number (Indonesian format preferred)",
		},
		{
			Key:         "pilihan1",
			Patterns:    append(clone(pilihan1Patterns), "first", "pertama", "utama"),
			Type:        TypeCategorical,
			Required:    true,
			Description: "First program choice (required)",
		},
		{
			Key:         "pilihan2",
			Patterns:    append(clone(pilihan2Patterns), "second", "kedua", "cadangan"),
			Type:        TypeCategorical,
			Description: "Second program choice (optional)",
		},
		{
			Key:         "pilihan3",
			Patterns:    append(clone(pilihan3Patterns), "third", "ketiga", "alternatif"),
			Type:        TypeCategorical,
			Description: "Third program choice (optional)",
		},
		{
			Key: "prodi_lulus",
			Patterns: append(clone(prodiLulusPatterns),
				"previous_major", "major", "asal_prodi", "prodi_asal", "background"),
			Type:        TypeCategorical,
			Description: "Previous graduation program (optional)",
		},
	}
}

func clone(s []string) []string {
	out := make([]string, len(s))
	copy(out, s)
	return out
}
