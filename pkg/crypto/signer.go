package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"pi_guard/internal/domain"
)

type Signer struct {
	secretKey []byte
	logger    *slog.Logger
}

func NewSigner(secretKey string, logger *slog.Logger) *Signer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Signer{
		secretKey: []byte(secretKey),
		logger:    logger,
	}
}

func (s *Signer) Sign(data []byte) string {
	mac := hmac.New(sha256.New, s.secretKey)
	mac.Write(data)
	signature := mac.Sum(nil)
	return hex.EncodeToString(signature)
}

func (s *Signer) Verify(data []byte, signature string) (bool, error) {
	expectedSignature := s.Sign(data)

	if !hmac.Equal([]byte(expectedSignature), []byte(signature)) {
		s.logger.Warn("Signature verification failed",
			slog.String("received", signature))
		return false, fmt.Errorf("invalid signature")
	}

	return true, nil
}

func transactionPayload(tx *domain.Transaction) []byte {
	return []byte(fmt.Sprintf("%s:%s:%s:%s:%d:%s",
		tx.ID, tx.Sender, tx.Receiver, tx.Amount.String(), tx.Units(), tx.SourceTag))
}

func (s *Signer) SignTransaction(tx *domain.Transaction) string {
	return s.Sign(transactionPayload(tx))
}

func (s *Signer) VerifyTransaction(tx *domain.Transaction, signature string) (bool, error) {
	return s.Verify(transactionPayload(tx), signature)
}

func auditPayload(rec domain.AuditRecord) []byte {
	return []byte(fmt.Sprintf("%s:%s:%s:%s:%s:%d:%d",
		rec.ID, rec.TransactionID, rec.Account, rec.Outcome, rec.Reason, rec.PurityScore, rec.Timestamp.UnixNano()))
}

// SignAudit seals an audit record so an exported audit trail can be checked for tampering.
func (s *Signer) SignAudit(rec domain.AuditRecord) string {
	return s.Sign(auditPayload(rec))
}

func (s *Signer) VerifyAudit(rec domain.AuditRecord) (bool, error) {
	return s.Verify(auditPayload(rec), rec.Signature)
}
