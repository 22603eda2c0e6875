package services

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/moov-io/iso20022/pkg/common"
	"github.com/moov-io/iso20022/pkg/pacs_v08"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

const settlementQueueKey = "settlement_queue"

// SettlementRecord is the committed-transfer snapshot exported downstream as
// an ISO 20022 pacs.008 credit transfer.
type SettlementRecord struct {
	ReferenceID       string          `json:"reference_id"`
	FromAccountNumber string          `json:"from_account_number"`
	ToAccountNumber   string          `json:"to_account_number"`
	Amount            decimal.Decimal `json:"amount"`
	CreatedAt         time.Time       `json:"created_at"`
}

// SettlementService queues committed transfers on Redis and drains them into
// pacs.008 messages for the settlement system. Queueing is best-effort; a
// transfer is never failed because its settlement export could not be queued.
type SettlementService struct {
	redis    *redis.Client
	currency string
	bic      string
}

func NewSettlementService(redisClient *redis.Client) *SettlementService {
	viper.SetDefault("settlement.currency", "USD")
	viper.SetDefault("settlement.bic", "VLTCUS33")

	return &SettlementService{
		redis:    redisClient,
		currency: viper.GetString("settlement.currency"),
		bic:      viper.GetString("settlement.bic"),
	}
}

// QueueTransfer pushes one committed transfer onto the settlement queue.
func (s *SettlementService) QueueTransfer(record SettlementRecord) {
	if s.redis == nil {
		return
	}

	data, err := json.Marshal(record)
	if err != nil {
		log.Printf("[SETTLEMENT] Failed to encode transfer %s: %v", record.ReferenceID, err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := s.redis.RPush(ctx, settlementQueueKey, string(data)).Err(); err != nil {
		log.Printf("[SETTLEMENT] Failed to queue transfer %s: %v", record.ReferenceID, err)
	}
}

// DrainOnce pops queued transfers, converts each to pacs.008, and sends it.
// Returns how many records were exported.
func (s *SettlementService) DrainOnce(ctx context.Context) (int, error) {
	if s.redis == nil {
		return 0, nil
	}

	exported := 0
	for {
		data, err := s.redis.LPop(ctx, settlementQueueKey).Bytes()
		if errors.Is(err, redis.Nil) {
			return exported, nil
		}
		if err != nil {
			return exported, fmt.Errorf("settlement queue pop: %w", err)
		}

		var record SettlementRecord
		if err := json.Unmarshal(data, &record); err != nil {
			log.Printf("[SETTLEMENT] Dropping malformed settlement record: %v", err)
			continue
		}

		doc, err := s.BuildPacs008(&record)
		if err != nil {
			log.Printf("[SETTLEMENT] Failed to convert transfer %s: %v", record.ReferenceID, err)
			continue
		}

		if err := s.SendToSettlement(doc); err != nil {
			log.Printf("[SETTLEMENT] Failed to send transfer %s: %v", record.ReferenceID, err)
			continue
		}
		exported++
	}
}

// BuildPacs008 creates a pacs.008 FIToFICustomerCreditTransfer message for
// one committed transfer.
func (s *SettlementService) BuildPacs008(record *SettlementRecord) (*pacs_v08.FIToFICustomerCreditTransferV08, error) {
	if record.ReferenceID == "" {
		return nil, fmt.Errorf("settlement record missing reference ID")
	}

	msgID := uuid.New().String()
	now := time.Now()
	settlementDate := now
	amount := record.Amount.InexactFloat64()

	doc := &pacs_v08.FIToFICustomerCreditTransferV08{
		GrpHdr: pacs_v08.GroupHeader93{
			MsgId:   common.Max35Text(msgID),
			CreDtTm: common.ISODateTime(now),
			NbOfTxs: "1",
			TtlIntrBkSttlmAmt: &pacs_v08.ActiveCurrencyAndAmount{
				Ccy:   common.ActiveCurrencyCode(s.currency),
				Value: amount,
			},
			IntrBkSttlmDt: (*common.ISODate)(&settlementDate),
			SttlmInf: pacs_v08.SettlementInstruction7{
				SttlmMtd: "CLRG", // Clearing
			},
		},
		CdtTrfTxInf: []pacs_v08.CreditTransferTransaction39{
			{
				PmtId: pacs_v08.PaymentIdentification7{
					InstrId:    &[]common.Max35Text{common.Max35Text(record.ReferenceID)}[0],
					EndToEndId: common.Max35Text(record.ReferenceID),
					TxId:       &[]common.Max35Text{common.Max35Text(record.ReferenceID)}[0],
				},
				IntrBkSttlmAmt: pacs_v08.ActiveCurrencyAndAmount{
					Ccy:   common.ActiveCurrencyCode(s.currency),
					Value: amount,
				},
				IntrBkSttlmDt: (*common.ISODate)(&settlementDate),
				ChrgBr:        "SLEV",
				DbtrAgt: pacs_v08.BranchAndFinancialInstitutionIdentification6{
					FinInstnId: pacs_v08.FinancialInstitutionIdentification18{
						BICFI: &[]common.BICFIDec2014Identifier{common.BICFIDec2014Identifier(s.bic)}[0],
					},
				},
				Dbtr: pacs_v08.PartyIdentification135{
					Nm: &[]common.Max140Text{common.Max140Text(record.FromAccountNumber)}[0],
				},
				CdtrAgt: pacs_v08.BranchAndFinancialInstitutionIdentification6{
					FinInstnId: pacs_v08.FinancialInstitutionIdentification18{
						BICFI: &[]common.BICFIDec2014Identifier{common.BICFIDec2014Identifier(s.bic)}[0],
					},
				},
				Cdtr: pacs_v08.PartyIdentification135{
					Nm: &[]common.Max140Text{common.Max140Text(record.ToAccountNumber)}[0],
				},
			},
		},
	}

	return doc, nil
}

// SendToSettlement marshals the document and hands it to the settlement
// system.
func (s *SettlementService) SendToSettlement(doc any) error {
	xmlData, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal XML: %w", err)
	}

	// TODO: replace with the clearing-house submission client once its
	// endpoint is provisioned.
	log.Printf("[SETTLEMENT] Sending pacs.008 (%d bytes)", len(xmlData))
	return nil
}

// ConvertToXML renders an ISO 20022 document as an XML string.
func (s *SettlementService) ConvertToXML(doc any) (string, error) {
	xmlData, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal XML: %w", err)
	}
	return xml.Header + string(xmlData), nil
}
