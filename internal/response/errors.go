package response

// ErrCode is a typed error code enum for consistent API error identification.
type ErrCode string

const (
	// ─── Authentication ────────────────────────────────────────────────
	ErrTokenRequired ErrCode = "TOKEN_REQUIRED"
	ErrTokenInvalid  ErrCode = "TOKEN_INVALID"
	ErrForbidden     ErrCode = "FORBIDDEN"

	// ─── Validation ────────────────────────────────────────────────────
	ErrValidation     ErrCode = "VALIDATION_ERROR"
	ErrInvalidID      ErrCode = "INVALID_ID"
	ErrInvalidPayload ErrCode = "INVALID_PAYLOAD"

	// ─── Resources ─────────────────────────────────────────────────────
	ErrNotFound ErrCode = "NOT_FOUND"

	// ─── Attempt gate ──────────────────────────────────────────────────
	ErrInvalidAccessCode ErrCode = "INVALID_ACCESS_CODE"
	ErrAttemptNotFound   ErrCode = "ATTEMPT_NOT_FOUND"
	ErrAttemptNotStarted ErrCode = "ATTEMPT_NOT_STARTED"
	ErrAttemptExpired    ErrCode = "ATTEMPT_EXPIRED"
	ErrAlreadySubmitted  ErrCode = "ALREADY_SUBMITTED"
	ErrAttemptFull       ErrCode = "ATTEMPT_FULL"

	// ─── Session ───────────────────────────────────────────────────────
	ErrUnknownQuestion    ErrCode = "UNKNOWN_QUESTION"
	ErrInvalidSignal      ErrCode = "INVALID_SIGNAL"
	ErrGradingFailed      ErrCode = "GRADING_FAILED"
	ErrNotConfigured      ErrCode = "SERVICE_NOT_CONFIGURED"
	ErrTemporaryFailure   ErrCode = "TEMPORARY_FAILURE"
	ErrReportUndecodable  ErrCode = "REPORT_UNDECODABLE"
	ErrSessionUnavailable ErrCode = "SESSION_UNAVAILABLE"

	// ─── Rate Limiting ─────────────────────────────────────────────────
	ErrRateLimitExceeded ErrCode = "RATE_LIMIT_EXCEEDED"

	// ─── Server ────────────────────────────────────────────────────────
	ErrInternal ErrCode = "INTERNAL_ERROR"
)

// GetMessage returns a human-readable message for a given error code.
func GetMessage(code ErrCode) string {
	switch code {
	// ─── Authentication ────────────────────────────────────────────────
	case ErrTokenRequired:
		return "Token sesi diperlukan."
	case ErrTokenInvalid:
		return "Token sesi tidak valid atau telah kedaluwarsa."
	case ErrForbidden:
		return "Anda tidak memiliki izin untuk mengakses sumber daya ini."

	// ─── Validation ────────────────────────────────────────────────────
	case ErrValidation:
		return "Validasi gagal. Periksa kembali isian Anda."
	case ErrInvalidID:
		return "Format ID tidak valid."
	case ErrInvalidPayload:
		return "Format data tidak valid."

	// ─── Resources ─────────────────────────────────────────────────────
	case ErrNotFound:
		return "Data tidak ditemukan."

	// ─── Attempt gate ──────────────────────────────────────────────────
	case ErrInvalidAccessCode:
		return "Kode akses minimal 6 karakter."
	case ErrAttemptNotFound:
		return "Kode akses tidak ditemukan."
	case ErrAttemptNotStarted:
		return "Ujian belum dimulai."
	case ErrAttemptExpired:
		return "Waktu ujian telah berakhir."
	case ErrAlreadySubmitted:
		return "Jawaban Anda sudah dikumpulkan."
	case ErrAttemptFull:
		return "Kuota peserta ujian ini sudah penuh."

	// ─── Session ───────────────────────────────────────────────────────
	case ErrUnknownQuestion:
		return "Soal tidak termasuk dalam ujian ini."
	case ErrInvalidSignal:
		return "Jenis sinyal tidak dikenal."
	case ErrGradingFailed:
		return "Penilaian otomatis gagal. Silakan coba lagi."
	case ErrNotConfigured:
		return "Layanan belum tersedia. Silakan hubungi administrator."
	case ErrTemporaryFailure:
		return "Terjadi gangguan sementara. Silakan coba lagi."
	case ErrReportUndecodable:
		return "Laporan tidak dapat dibaca."
	case ErrSessionUnavailable:
		return "Sesi ujian tidak tersedia."

	// ─── Rate Limiting ─────────────────────────────────────────────────
	case ErrRateLimitExceeded:
		return "Terlalu banyak permintaan. Silakan coba lagi nanti."

	// ─── Server ────────────────────────────────────────────────────────
	case ErrInternal:
		return "Terjadi kesalahan internal server."

	default:
		return "Terjadi kesalahan yang tidak diketahui."
	}
}
