package decoder

// Minimal ABI fragments for the tracked contracts. Only the events the
// indexer consumes and the poolMetas view are declared; anything else the
// contracts emit decodes as ErrUnknownEvent and is skipped.

const stakeABI = `[
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "name": "user", "type": "address"},
      {"indexed": false, "name": "amount", "type": "uint256"},
      {"indexed": false, "name": "token", "type": "address"},
      {"indexed": false, "name": "lToken", "type": "address"}
    ],
    "name": "Lock",
    "type": "event"
  }
]`

const liquidityABI = `[
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "name": "nftId", "type": "uint256"},
      {"indexed": false, "name": "pool", "type": "uint128"},
      {"indexed": false, "name": "liquidityDelta", "type": "uint128"},
      {"indexed": false, "name": "amountX", "type": "uint256"},
      {"indexed": false, "name": "amountY", "type": "uint256"}
    ],
    "name": "AddLiquidity",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "name": "nftId", "type": "uint256"},
      {"indexed": false, "name": "pool", "type": "uint128"},
      {"indexed": false, "name": "liquidityDelta", "type": "uint128"},
      {"indexed": false, "name": "amountX", "type": "uint256"},
      {"indexed": false, "name": "amountY", "type": "uint256"}
    ],
    "name": "DecLiquidity",
    "type": "event"
  },
  {
    "inputs": [{"name": "poolId", "type": "uint128"}],
    "name": "poolMetas",
    "outputs": [
      {"name": "tokenX", "type": "address"},
      {"name": "tokenY", "type": "address"},
      {"name": "fee", "type": "uint24"}
    ],
    "stateMutability": "view",
    "type": "function"
  }
]`

const bridgeABI = `[
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "name": "fromChain", "type": "uint256"},
      {"indexed": true, "name": "toChain", "type": "uint256"},
      {"indexed": true, "name": "orderId", "type": "bytes32"},
      {"indexed": false, "name": "token", "type": "address"},
      {"indexed": false, "name": "from", "type": "bytes"},
      {"indexed": false, "name": "toAddress", "type": "address"},
      {"indexed": false, "name": "amountOut", "type": "uint256"}
    ],
    "name": "mapSwapIn",
    "type": "event"
  }
]`
