package indexer

// Operation names sent as operationName and used as metric and span labels
const (
	OpGetAllUsers              = "GetAllUsers"
	OpGetGlobalStats           = "GetGlobalStats"
	OpGetUserByAddress         = "GetUserByAddress"
	OpCountUsersByTier         = "CountUsersByTier"
	OpGetUsersWithWeeklyPoints = "GetUsersWithWeeklyPoints"
)

const userFields = `
      id
      current_balance_wei
      current_balance
      current_tier
      total_points_earned
      last_update_timestamp`

const weeklyPointsFields = `
        week_number
        points_earned_this_week
        weekly_cap
        is_cap_reached`

// An empty $where matches every user.
const getAllUsersQuery = `
  query GetAllUsers($limit: Int, $offset: Int, $orderBy: [User_order_by!], $where: User_bool_exp) {
    User(limit: $limit, offset: $offset, order_by: $orderBy, where: $where) {` + userFields + `
    }
  }
`

const getGlobalStatsQuery = `
  query GetGlobalStats($id: String!) {
    GlobalStats(where: { id: { _eq: $id } }) {
      id
      total_users
      total_points_distributed
      current_week_number
      last_snapshot_hour
      tier_distribution
    }
  }
`

const getUserByAddressQuery = `
  query GetUserByAddress($address: String!, $weekNumber: String!, $snapshotLimit: Int!) {
    User(where: { id: { _eq: $address } }) {` + userFields + `
      weeklyPoints(where: { week_number: { _eq: $weekNumber } }) {` + weeklyPointsFields + `
      }
      snapshots(limit: $snapshotLimit, order_by: { timestamp: desc }) {
        id
        points_awarded
        tier_at_time
        balance_at_time
        snapshot_hour
        timestamp
      }
    }
  }
`

const countUsersByTierQuery = `
  query CountUsersByTier($tier: Int!) {
    User_aggregate(where: { current_tier: { _eq: $tier } }) {
      aggregate {
        count
      }
    }
  }
`

const getUsersWithWeeklyPointsQuery = `
  query GetUsersWithWeeklyPoints($weekNumber: String!, $limit: Int, $offset: Int) {
    User(
      limit: $limit
      offset: $offset
      order_by: [{ total_points_earned: desc }]
      where: { weeklyPoints: { week_number: { _eq: $weekNumber } } }
    ) {` + userFields + `
      weeklyPoints(where: { week_number: { _eq: $weekNumber } }) {` + weeklyPointsFields + `
      }
    }
  }
`
