// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package seckill

// Key layout for the admission hot path. The stream is created implicitly by
// the script's XADD; the stock key is seeded when a voucher goes on sale.
const (
	StockKeyPrefix = "seckill:stock:"
	OrderSetPrefix = "seckill:order:"
	StreamKey      = "stream.orders"
	DeadLetterKey  = StreamKey + ":dead"
)

// Admission result codes returned by the script.
const (
	codeAdmitted   = 0
	codeOutOfStock = 1
	codeDuplicate  = 2
)

// admissionScript is the whole critical section of the hot path. It runs as
// one atomic unit on the store, so no two concurrent attempts for the same
// user and voucher can both pass the duplicate gate, and no attempt can pass
// the stock gate once cached stock hits zero. ARGV: voucherId, userId,
// orderId, all as strings.
const admissionScript = `
local voucherId = ARGV[1]
local userId = ARGV[2]
local orderId = ARGV[3]
local stockKey = 'seckill:stock:' .. voucherId
local orderKey = 'seckill:order:' .. voucherId
local stock = redis.call('get', stockKey)
if stock == false or tonumber(stock) <= 0 then
  return 1
end
if redis.call('sismember', orderKey, userId) == 1 then
  return 2
end
redis.call('incrby', stockKey, -1)
redis.call('sadd', orderKey, userId)
redis.call('xadd', 'stream.orders', '*', 'id', orderId, 'userId', userId, 'voucherId', voucherId)
return 0
`
