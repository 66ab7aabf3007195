package services

import (
	"bytes"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/moov-io/iso20022/pkg/common"
	"github.com/moov-io/iso20022/pkg/pacs_v08"
	"github.com/spf13/viper"
	"github.com/zamio/backend/internal/models"
)

// PaymentRailService dispatches approved withdrawal payouts to the
// external rails. Every failure is wrapped in UpstreamPaymentError so
// the caller knows the ledger leg committed but the payout leg did not.
type PaymentRailService struct {
	client *http.Client
}

func NewPaymentRailService() *PaymentRailService {
	return &PaymentRailService{
		client: &http.Client{Timeout: 15 * time.Second},
	}
}

// payoutDetails is the payment_details JSON stored on a withdrawal.
type payoutDetails struct {
	BankCode      string `json:"bank_code"`
	AccountNumber string `json:"account_number"`
	AccountName   string `json:"account_name"`
	MomoNumber    string `json:"momo_number"`
}

// Dispatch sends the payout for an approved withdrawal over its rail.
func (p *PaymentRailService) Dispatch(req *models.WithdrawalRequest) error {
	var details payoutDetails
	if len(req.PaymentDetails) > 0 {
		if err := json.Unmarshal(req.PaymentDetails, &details); err != nil {
			return &UpstreamPaymentError{Rail: req.PaymentMethod, Err: fmt.Errorf("invalid payment details: %w", err)}
		}
	}

	switch req.PaymentMethod {
	case models.PayBankTransfer:
		doc, err := p.CreatePacs008(req, &details)
		if err != nil {
			return &UpstreamPaymentError{Rail: req.PaymentMethod, Err: err}
		}
		if err := p.SendToSettlement(doc); err != nil {
			return &UpstreamPaymentError{Rail: req.PaymentMethod, Err: err}
		}
	case models.PayMTNMoMo:
		if err := p.sendMomoPayout(req, &details); err != nil {
			return &UpstreamPaymentError{Rail: req.PaymentMethod, Err: err}
		}
	default:
		return &UpstreamPaymentError{Rail: req.PaymentMethod, Err: fmt.Errorf("unsupported payout method")}
	}

	log.Printf("[RAIL] Payout dispatched for %s via %s", req.WithdrawalID, req.PaymentMethod)
	return nil
}

// CreatePacs008 builds a pacs.008 FIToFICustomerCreditTransfer message
// for a bank transfer payout out of the central pool.
func (p *PaymentRailService) CreatePacs008(req *models.WithdrawalRequest, details *payoutDetails) (*pacs_v08.FIToFICustomerCreditTransferV08, error) {
	msgId := uuid.New().String()
	creDtTm := time.Now()
	settlementDate := time.Now()
	amount := req.Amount.InexactFloat64()

	payee := details.AccountName
	if payee == "" {
		payee = req.Requester
	}

	doc := &pacs_v08.FIToFICustomerCreditTransferV08{
		GrpHdr: pacs_v08.GroupHeader93{
			MsgId:   common.Max35Text(msgId),
			CreDtTm: common.ISODateTime(creDtTm),
			NbOfTxs: "1",
			TtlIntrBkSttlmAmt: &pacs_v08.ActiveCurrencyAndAmount{
				Ccy:   common.ActiveCurrencyCode(req.Currency),
				Value: amount,
			},
			IntrBkSttlmDt: (*common.ISODate)(&settlementDate),
			SttlmInf: pacs_v08.SettlementInstruction7{
				SttlmMtd: "CLRG",
			},
		},
		CdtTrfTxInf: []pacs_v08.CreditTransferTransaction39{
			{
				PmtId: pacs_v08.PaymentIdentification7{
					InstrId:    &[]common.Max35Text{common.Max35Text(req.WithdrawalID)}[0],
					EndToEndId: common.Max35Text(req.WithdrawalID),
					TxId:       &[]common.Max35Text{common.Max35Text(req.WithdrawalID)}[0],
				},
				IntrBkSttlmAmt: pacs_v08.ActiveCurrencyAndAmount{
					Ccy:   common.ActiveCurrencyCode(req.Currency),
					Value: amount,
				},
				IntrBkSttlmDt: (*common.ISODate)(&settlementDate),
				ChrgBr:        "SLEV",
				DbtrAgt: pacs_v08.BranchAndFinancialInstitutionIdentification6{
					FinInstnId: pacs_v08.FinancialInstitutionIdentification18{
						BICFI: &[]common.BICFIDec2014Identifier{common.BICFIDec2014Identifier("ZAMIOGH")}[0],
					},
				},
				Dbtr: pacs_v08.PartyIdentification135{
					Nm: &[]common.Max140Text{common.Max140Text(models.PlatformPoolID)}[0],
				},
				CdtrAgt: pacs_v08.BranchAndFinancialInstitutionIdentification6{
					FinInstnId: pacs_v08.FinancialInstitutionIdentification18{
						ClrSysMmbId: &pacs_v08.ClearingSystemMemberIdentification2{
							MmbId: common.Max35Text(details.BankCode),
						},
					},
				},
				Cdtr: pacs_v08.PartyIdentification135{
					Nm: &[]common.Max140Text{common.Max140Text(payee)}[0],
				},
			},
		},
	}

	return doc, nil
}

// SendToSettlement marshals the message and posts it to the settlement
// endpoint. Without a configured endpoint the XML is logged only, which
// is the development mode.
func (p *PaymentRailService) SendToSettlement(doc interface{}) error {
	xmlData, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal XML: %w", err)
	}

	endpoint := viper.GetString("rail.settlement_url")
	if endpoint == "" {
		log.Printf("[RAIL] Settlement endpoint not configured, message:\n%s", string(xmlData))
		return nil
	}

	resp, err := p.client.Post(endpoint, "application/xml", bytes.NewReader(append([]byte(xml.Header), xmlData...)))
	if err != nil {
		return fmt.Errorf("settlement request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("settlement endpoint returned %d", resp.StatusCode)
	}
	return nil
}

func (p *PaymentRailService) sendMomoPayout(req *models.WithdrawalRequest, details *payoutDetails) error {
	if details.MomoNumber == "" {
		return fmt.Errorf("momo_number missing from payment details")
	}

	endpoint := viper.GetString("rail.momo_url")
	if endpoint == "" {
		log.Printf("[RAIL] MoMo endpoint not configured, simulating payout of %s %s to %s",
			req.Amount, req.Currency, details.MomoNumber)
		return nil
	}

	body, _ := json.Marshal(map[string]string{
		"reference": req.WithdrawalID,
		"amount":    req.Amount.StringFixed(2),
		"currency":  req.Currency,
		"msisdn":    details.MomoNumber,
	})
	resp, err := p.client.Post(endpoint, "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("momo request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("momo endpoint returned %d", resp.StatusCode)
	}
	return nil
}
