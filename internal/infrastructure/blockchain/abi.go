package blockchain

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic("invalid contract ABI: " + err.Error())
	}
	return parsed
}

var protocolRegistryABI = mustParseABI(`[
  {"type":"function","name":"registerProtocol","stateMutability":"nonpayable","inputs":[{"name":"githubUrl","type":"string"},{"name":"owner","type":"address"}],"outputs":[{"name":"protocolId","type":"uint256"}]},
  {"type":"function","name":"getProtocol","stateMutability":"view","inputs":[{"name":"protocolId","type":"uint256"}],"outputs":[{"name":"owner","type":"address"},{"name":"githubUrl","type":"string"},{"name":"active","type":"bool"}]},
  {"type":"function","name":"isGithubUrlRegistered","stateMutability":"view","inputs":[{"name":"githubUrl","type":"string"}],"outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"getProtocolIdByGithubUrl","stateMutability":"view","inputs":[{"name":"githubUrl","type":"string"}],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"event","name":"ProtocolRegistered","inputs":[{"name":"protocolId","type":"uint256","indexed":true},{"name":"owner","type":"address","indexed":true},{"name":"githubUrl","type":"string","indexed":false}],"anonymous":false}
]`)

var bountyPoolABI = mustParseABI(`[
  {"type":"function","name":"depositBounty","stateMutability":"nonpayable","inputs":[{"name":"protocolId","type":"uint256"},{"name":"amount","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"releaseBounty","stateMutability":"nonpayable","inputs":[{"name":"protocolId","type":"uint256"},{"name":"validationId","type":"uint256"},{"name":"researcher","type":"address"},{"name":"severity","type":"uint8"}],"outputs":[{"name":"bountyId","type":"uint256"}]},
  {"type":"function","name":"calculateBountyAmount","stateMutability":"view","inputs":[{"name":"protocolId","type":"uint256"},{"name":"severity","type":"uint8"}],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"getProtocolBalance","stateMutability":"view","inputs":[{"name":"protocolId","type":"uint256"}],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"getBounty","stateMutability":"view","inputs":[{"name":"bountyId","type":"uint256"}],"outputs":[{"name":"validationId","type":"uint256"},{"name":"researcher","type":"address"},{"name":"amount","type":"uint256"},{"name":"released","type":"bool"}]},
  {"type":"event","name":"BountyReleased","inputs":[{"name":"bountyId","type":"uint256","indexed":true},{"name":"validationId","type":"uint256","indexed":true},{"name":"researcher","type":"address","indexed":true},{"name":"amount","type":"uint256","indexed":false}],"anonymous":false}
]`)

var validationRegistryABI = mustParseABI(`[
  {"type":"function","name":"recordValidation","stateMutability":"nonpayable","inputs":[{"name":"protocolId","type":"uint256"},{"name":"outcome","type":"bool"},{"name":"severity","type":"uint8"},{"name":"findingId","type":"bytes32"},{"name":"logDigest","type":"bytes32"},{"name":"proofHash","type":"bytes32"}],"outputs":[{"name":"validationId","type":"uint256"}]},
  {"type":"event","name":"ValidationRecorded","inputs":[{"name":"validationId","type":"uint256","indexed":true},{"name":"protocolId","type":"uint256","indexed":true},{"name":"outcome","type":"bool","indexed":false},{"name":"proofHash","type":"bytes32","indexed":false}],"anonymous":false}
]`)

var agentIdentityABI = mustParseABI(`[
  {"type":"function","name":"registerAgent","stateMutability":"nonpayable","inputs":[{"name":"wallet","type":"address"},{"name":"agentType","type":"uint8"}],"outputs":[{"name":"tokenId","type":"uint256"}]},
  {"type":"function","name":"getAgentByWallet","stateMutability":"view","inputs":[{"name":"wallet","type":"address"}],"outputs":[{"name":"tokenId","type":"uint256"},{"name":"agentType","type":"uint8"},{"name":"active","type":"bool"}]},
  {"type":"function","name":"recordFeedback","stateMutability":"nonpayable","inputs":[{"name":"researcher","type":"address"},{"name":"feedbackType","type":"uint8"}],"outputs":[{"name":"feedbackId","type":"uint256"}]},
  {"type":"event","name":"AgentRegistered","inputs":[{"name":"tokenId","type":"uint256","indexed":true},{"name":"wallet","type":"address","indexed":true},{"name":"agentType","type":"uint8","indexed":false}],"anonymous":false},
  {"type":"event","name":"FeedbackRecorded","inputs":[{"name":"feedbackId","type":"uint256","indexed":true},{"name":"researcher","type":"address","indexed":true},{"name":"feedbackType","type":"uint8","indexed":false}],"anonymous":false}
]`)

var escrowABI = mustParseABI(`[
  {"type":"function","name":"depositEscrowFor","stateMutability":"nonpayable","inputs":[{"name":"agent","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"deductSubmissionFee","stateMutability":"nonpayable","inputs":[{"name":"agent","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"getEscrowBalance","stateMutability":"view","inputs":[{"name":"agent","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"canSubmitFinding","stateMutability":"view","inputs":[{"name":"agent","type":"address"}],"outputs":[{"name":"","type":"bool"}]}
]`)

var erc20ABI = mustParseABI(`[
  {"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"owner","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"allowance","stateMutability":"view","inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"approve","stateMutability":"nonpayable","inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"transfer","stateMutability":"nonpayable","inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
  {"type":"event","name":"Transfer","inputs":[{"name":"from","type":"address","indexed":true},{"name":"to","type":"address","indexed":true},{"name":"value","type":"uint256","indexed":false}],"anonymous":false}
]`)
