package evm

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// recordLedgerABI covers the subset of the score ledger contract the
// workflows use.
const recordLedgerABI = `[
  {"type":"function","name":"getStudentTokens","stateMutability":"view",
   "inputs":[{"name":"student","type":"address"}],
   "outputs":[{"name":"","type":"uint256[]"}]},
  {"type":"function","name":"getQuizSubject","stateMutability":"view",
   "inputs":[{"name":"tokenId","type":"uint256"}],
   "outputs":[{"name":"","type":"string"}]},
  {"type":"function","name":"getEncryptedScore","stateMutability":"view",
   "inputs":[{"name":"tokenId","type":"uint256"}],
   "outputs":[{"name":"","type":"bytes32"}]},
  {"type":"function","name":"getEncryptedPassStatus","stateMutability":"view",
   "inputs":[{"name":"tokenId","type":"uint256"}],
   "outputs":[{"name":"","type":"bytes32"}]},
  {"type":"function","name":"totalSupply","stateMutability":"view",
   "inputs":[],
   "outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"submitScore","stateMutability":"nonpayable",
   "inputs":[
     {"name":"student","type":"address"},
     {"name":"encryptedScore","type":"bytes32"},
     {"name":"inputProof","type":"bytes"},
     {"name":"quizSubject","type":"string"},
     {"name":"ipfsHash","type":"string"}],
   "outputs":[{"name":"","type":"uint256"}]}
]`

// ParsedABI is the parsed contract interface.
var ParsedABI = mustParse(recordLedgerABI)

func mustParse(s string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(s))
	if err != nil {
		panic(err)
	}
	return parsed
}
