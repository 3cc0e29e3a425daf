package main

import (
	"log"
	"os"

	"pi_guard/internal/chaincode"

	"github.com/hyperledger/fabric-contract-api-go/contractapi"
)

func main() {
	guardChaincode, err := contractapi.NewChaincode(&chaincode.SmartContract{
		GovernanceMSP: os.Getenv("PIGUARD_GOVERNANCE_MSP"),
	})
	if err != nil {
		log.Panicf("Error creating PI guard chaincode: %v", err)
	}

	if err := guardChaincode.Start(); err != nil {
		log.Panicf("Error starting PI guard chaincode: %v", err)
	}
}
