package chaincode

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"pi_guard/internal/config"
	"pi_guard/internal/contract"
	"pi_guard/internal/domain"
	"pi_guard/internal/repository/ledger"
	"pi_guard/pkg/validator"
	"time"

	"github.com/hyperledger/fabric-contract-api-go/contractapi"
	"google.golang.org/protobuf/types/known/timestamppb"
)

const DefaultGovernanceMSP = "PiGovernanceMSP"

// stub is the part of shim.ChaincodeStubInterface the contract uses.
type stub interface {
	ledger.WorldState
	GetTxID() string
	GetTxTimestamp() (*timestamppb.Timestamp, error)
}

type identity interface {
	GetMSPID() (string, error)
	GetID() (string, error)
}

// SmartContract exposes the compliance contract as Fabric chaincode. Arguments and results are
// JSON documents so amounts keep their exact decimal form.
type SmartContract struct {
	contractapi.Contract
	GovernanceMSP string
}

func (s *SmartContract) InitLedger(ctx contractapi.TransactionContextInterface, genesisJSON string) error {
	return s.initLedger(ctx.GetStub(), ctx.GetClientIdentity(), genesisJSON)
}

func (s *SmartContract) FilterTransaction(ctx contractapi.TransactionContextInterface, txJSON string) (string, error) {
	return s.filterTransaction(ctx.GetStub(), txJSON)
}

func (s *SmartContract) GetEcosystemStatus(ctx contractapi.TransactionContextInterface) (string, error) {
	return s.ecosystemStatus(ctx.GetStub())
}

func (s *SmartContract) RunFullEcosystem(ctx contractapi.TransactionContextInterface, txsJSON string) (string, error) {
	return s.runFullEcosystem(ctx.GetStub(), txsJSON)
}

func (s *SmartContract) GetAccount(ctx contractapi.TransactionContextInterface, accountID string) (string, error) {
	return s.account(ctx.GetStub(), accountID)
}

func (s *SmartContract) ListFundReturns(ctx contractapi.TransactionContextInterface) (string, error) {
	return s.fundReturns(ctx.GetStub())
}

func (s *SmartContract) Unfreeze(ctx contractapi.TransactionContextInterface, accountID, note string) (string, error) {
	return s.unfreeze(ctx.GetStub(), ctx.GetClientIdentity(), accountID, note)
}

func (s *SmartContract) governanceMSP() string {
	if s.GovernanceMSP == "" {
		return DefaultGovernanceMSP
	}
	return s.GovernanceMSP
}

func (s *SmartContract) authorize(id identity) (string, error) {
	mspID, err := id.GetMSPID()
	if err != nil {
		return "", fmt.Errorf("failed to get MSP ID: %v", err)
	}
	if mspID != s.governanceMSP() {
		return "", fmt.Errorf("%w: only %s may perform governance actions", contract.ErrUnauthorized, s.governanceMSP())
	}
	operator, err := id.GetID()
	if err != nil {
		return "", fmt.Errorf("failed to get client ID: %v", err)
	}
	return operator, nil
}

// open builds a contract over the world state of the current Fabric transaction. The clock is
// the transaction timestamp so every endorsing peer computes the same result.
func open(st stub) (*contract.Contract, error) {
	ts, err := st.GetTxTimestamp()
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction timestamp: %v", err)
	}
	txTime := ts.AsTime().UTC()
	clock := func() time.Time { return txTime }

	return contract.New(context.Background(), ledger.New(st), slog.Default(),
		contract.WithClock(clock),
		contract.WithValidator(validator.NewTransactionValidator(validator.WithClock(clock))))
}

func (s *SmartContract) initLedger(st stub, id identity, genesisJSON string) error {
	if _, err := s.authorize(id); err != nil {
		return err
	}

	genesis, err := config.ParseGenesis([]byte(genesisJSON))
	if err != nil {
		return err
	}

	c, err := open(st)
	if err != nil {
		return err
	}
	return c.Init(context.Background(), genesis)
}

// decodeTransaction fills the fields the ledger must derive deterministically.
func decodeTransaction(st stub, raw []byte, index int) (*domain.Transaction, error) {
	var tx domain.Transaction
	if err := json.Unmarshal(raw, &tx); err != nil {
		return nil, fmt.Errorf("invalid transaction document: %v", err)
	}
	if tx.ID == "" {
		tx.ID = st.GetTxID()
		if index > 0 {
			tx.ID = fmt.Sprintf("%s-%d", tx.ID, index)
		}
	}
	if tx.SubmittedAt.IsZero() {
		ts, err := st.GetTxTimestamp()
		if err != nil {
			return nil, fmt.Errorf("failed to get transaction timestamp: %v", err)
		}
		tx.SubmittedAt = ts.AsTime().UTC()
	}
	return &tx, nil
}

func (s *SmartContract) filterTransaction(st stub, txJSON string) (string, error) {
	tx, err := decodeTransaction(st, []byte(txJSON), 0)
	if err != nil {
		return "", err
	}

	c, err := open(st)
	if err != nil {
		return "", err
	}
	decision, err := c.FilterTransaction(context.Background(), tx)
	if err != nil {
		return "", err
	}
	return marshal(decision)
}

func (s *SmartContract) ecosystemStatus(st stub) (string, error) {
	c, err := open(st)
	if err != nil {
		return "", err
	}
	status, err := c.GetEcosystemStatus(context.Background())
	if err != nil {
		return "", err
	}
	return marshal(status)
}

func (s *SmartContract) runFullEcosystem(st stub, txsJSON string) (string, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal([]byte(txsJSON), &raw); err != nil {
		return "", fmt.Errorf("invalid transaction batch: %v", err)
	}

	txs := make([]*domain.Transaction, 0, len(raw))
	for i, r := range raw {
		tx, err := decodeTransaction(st, r, i+1)
		if err != nil {
			return "", err
		}
		txs = append(txs, tx)
	}

	c, err := open(st)
	if err != nil {
		return "", err
	}
	report, err := c.RunFullEcosystem(context.Background(), txs)
	if err != nil {
		return "", err
	}
	return marshal(report)
}

func (s *SmartContract) account(st stub, accountID string) (string, error) {
	c, err := open(st)
	if err != nil {
		return "", err
	}
	account, err := c.GetAccount(context.Background(), accountID)
	if err != nil {
		return "", err
	}
	return marshal(account)
}

func (s *SmartContract) fundReturns(st stub) (string, error) {
	c, err := open(st)
	if err != nil {
		return "", err
	}
	returns, err := c.ListFundReturns(context.Background())
	if err != nil {
		return "", err
	}
	return marshal(returns)
}

func (s *SmartContract) unfreeze(st stub, id identity, accountID, note string) (string, error) {
	operator, err := s.authorize(id)
	if err != nil {
		return "", err
	}

	c, err := open(st)
	if err != nil {
		return "", err
	}
	account, err := c.Unfreeze(context.Background(), accountID, operator, note)
	if err != nil {
		return "", err
	}
	return marshal(account)
}

func marshal(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
